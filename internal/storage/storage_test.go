package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/coffersTech/loghell/internal/model"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// StorageTestSuite runs the same contract against every backend.
type StorageTestSuite struct {
	suite.Suite
	open    func() Storage
	storage Storage
	ctx     context.Context
}

func (s *StorageTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.storage = s.open()
}

func (s *StorageTestSuite) TearDownTest() {
	s.NoError(s.storage.Close())
}

func (s *StorageTestSuite) TestWriteRead() {
	key := model.Key(42)
	s.Require().NoError(s.storage.Write(s.ctx, key, []byte(`{"level":"info"}`)))

	data, err := s.storage.Read(s.ctx, key)
	s.Require().NoError(err)
	s.Equal(`{"level":"info"}`, string(data))
}

func (s *StorageTestSuite) TestReadMissing() {
	_, err := s.storage.Read(s.ctx, model.Key(7))
	s.ErrorIs(err, ErrNotFound)

	var opErr *OpError
	s.Require().True(errors.As(err, &opErr))
	s.Equal("read", opErr.Op)
	s.Equal(model.Key(7), opErr.Key)
}

func (s *StorageTestSuite) TestReadReturnsCopy() {
	key := model.Key(1)
	s.Require().NoError(s.storage.Write(s.ctx, key, []byte("abc")))
	data, err := s.storage.Read(s.ctx, key)
	s.Require().NoError(err)
	data[0] = 'X'

	again, err := s.storage.Read(s.ctx, key)
	s.Require().NoError(err)
	s.Equal("abc", string(again))
}

func (s *StorageTestSuite) TestDelete() {
	key := model.Key(9)
	s.Require().NoError(s.storage.Write(s.ctx, key, []byte("x")))
	s.Require().NoError(s.storage.Delete(s.ctx, key))

	_, err := s.storage.Read(s.ctx, key)
	s.ErrorIs(err, ErrNotFound)
}

func (s *StorageTestSuite) TestList() {
	want := map[model.Key]string{
		1: `{"message":"m1"}`,
		2: `{"message":"m2"}`,
		3: `{"message":"m3"}`,
	}
	for k, v := range want {
		s.Require().NoError(s.storage.Write(s.ctx, k, []byte(v)))
	}

	got := map[model.Key]string{}
	err := s.storage.List(s.ctx, func(k model.Key, data []byte) error {
		got[k] = string(data)
		return nil
	})
	s.Require().NoError(err)
	s.Equal(want, got)
}

func (s *StorageTestSuite) TestListStopsOnError() {
	s.Require().NoError(s.storage.Write(s.ctx, 1, []byte("a")))
	s.Require().NoError(s.storage.Write(s.ctx, 2, []byte("b")))

	stop := errors.New("stop")
	calls := 0
	err := s.storage.List(s.ctx, func(model.Key, []byte) error {
		calls++
		return stop
	})
	s.ErrorIs(err, stop)
	s.Equal(1, calls)
}

func TestInMem(t *testing.T) {
	suite.Run(t, &StorageTestSuite{open: func() Storage { return NewInMem() }})
}

func TestFile(t *testing.T) {
	suite.Run(t, &StorageTestSuite{open: func() Storage {
		fs, err := OpenFile(filepath.Join(t.TempDir(), "data", "loghell.db"), zerolog.Nop())
		require.NoError(t, err)
		return fs
	}})
}

func TestS3(t *testing.T) {
	suite.Run(t, &StorageTestSuite{open: func() Storage {
		return newS3WithClient(newFakeS3(), S3Options{Bucket: "logs", Prefix: "entries/"})
	}})
}

func TestInMemListKeepsInsertionOrder(t *testing.T) {
	ctx := context.Background()
	s := NewInMem()
	keys := []model.Key{30, 10, 20}
	for _, k := range keys {
		require.NoError(t, s.Write(ctx, k, []byte(k.String())))
	}
	require.NoError(t, s.Delete(ctx, 10))

	var got []model.Key
	require.NoError(t, s.List(ctx, func(k model.Key, _ []byte) error {
		got = append(got, k)
		return nil
	}))
	assert.Equal(t, []model.Key{30, 20}, got)
	assert.Equal(t, 2, s.Len())
}

func TestNew(t *testing.T) {
	ctx := context.Background()

	s, err := New(ctx, Options{Name: "in_memory", Logger: zerolog.Nop()})
	require.NoError(t, err)
	assert.IsType(t, &InMem{}, s)

	s, err = New(ctx, Options{Name: "file", Path: filepath.Join(t.TempDir(), "x.db"), Logger: zerolog.Nop()})
	require.NoError(t, err)
	assert.IsType(t, &File{}, s)
	require.NoError(t, s.Close())

	_, err = New(ctx, Options{Name: "file", Logger: zerolog.Nop()})
	assert.Error(t, err)

	_, err = New(ctx, Options{Name: "tape", Logger: zerolog.Nop()})
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestParseType(t *testing.T) {
	for _, typ := range []Type{TypeInMemory, TypeFile, TypeS3} {
		assert.Equal(t, typ, ParseType(typ.String()))
	}
	assert.Equal(t, TypeUnknown, ParseType("dummy"))
	assert.Equal(t, "unknown", TypeUnknown.String())
}
