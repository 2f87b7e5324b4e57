package main

import (
	"os"
	"time"

	"github.com/coffersTech/loghell/sdks/go/loghell"
	"github.com/rs/zerolog"
)

func main() {
	w := loghell.NewWriter(loghell.Options{Addr: "127.0.0.1:6669"})
	defer w.Close()

	log := zerolog.New(zerolog.MultiLevelWriter(w, os.Stdout)).
		With().
		Timestamp().
		Str("service", "go-example-service").
		Logger()

	log.Info().Int("user_id", 42).Str("status", "active").Msg("hello from go sdk")
	log.Warn().Int("retry_count", 3).Msg("this is a warning")
	log.Error().Str("error", "connection refused").Msg("something went wrong")
	log.Debug().Dict("http", zerolog.Dict().Str("method", "GET").Int("status", 200)).Msg("request served")

	time.Sleep(2 * time.Second)
	log.Info().Msg("last message before exit")
}
