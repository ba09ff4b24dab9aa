package sqlite

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/kvs-ingest/internal/domain"
	"github.com/prn-tf/kvs-ingest/internal/repository"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	ctx := context.Background()

	db, err := NewDB(ctx, DefaultConfig(filepath.Join(t.TempDir(), "ledger", "kvs.db")), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.Migrate(ctx))
	return db
}

func newUpload(stream string, started time.Time, fragments ...string) *domain.UploadRecord {
	u := &domain.UploadRecord{
		ID:                     uuid.New(),
		StreamName:             stream,
		Endpoint:               "https://s-1.kinesisvideo.us-east-1.amazonaws.com",
		ProducerStartTimestamp: "1704067200.000",
		StartedAt:              started,
		CompletedAt:            started.Add(3 * time.Second),
		BytesSent:              35000,
		Chunks:                 3,
		MediaSHA256:            "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
	}
	for i, f := range fragments {
		u.Acks = append(u.Acks,
			domain.AckRecord{EventType: domain.AckReceived, FragmentTimecode: int64(i), FragmentNumber: f},
			domain.AckRecord{EventType: domain.AckPersisted, FragmentTimecode: int64(i), FragmentNumber: f,
				Raw: []byte(`{"EventType":"PERSISTED","FragmentNumber":"` + f + `"}`)},
		)
	}
	return u
}

func TestMigrate_Idempotent(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Migrate(context.Background()))
	require.NoError(t, db.Health(context.Background()))
}

func TestUploadRepository_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	repo := NewUploadRepository(newTestDB(t))

	started := time.Date(2024, 1, 1, 0, 0, 0, 123000000, time.UTC)
	upload := newUpload("camera-1", started, "9134385233318150666", "9134385233318150667")
	require.NoError(t, repo.Create(ctx, upload))

	got, err := repo.GetByID(ctx, upload.ID)
	require.NoError(t, err)
	require.Equal(t, upload.StreamName, got.StreamName)
	require.True(t, started.Equal(got.StartedAt))
	require.Equal(t, int64(35000), got.BytesSent)
	require.Len(t, got.Acks, 4)
	require.Equal(t, domain.AckReceived, got.Acks[0].EventType)
	require.Equal(t, domain.AckPersisted, got.Acks[3].EventType)
	require.Equal(t, "9134385233318150667", got.Acks[3].FragmentNumber)
	require.NotEmpty(t, got.Acks[3].Raw)
	require.Equal(t, 2, got.PersistedCount())

	require.ErrorIs(t, repo.Create(ctx, upload), repository.ErrAlreadyExists)
}

func TestUploadRepository_NotFound(t *testing.T) {
	ctx := context.Background()
	repo := NewUploadRepository(newTestDB(t))

	_, err := repo.GetByID(ctx, uuid.New())
	require.ErrorIs(t, err, repository.ErrNotFound)

	_, err = repo.FindByFragment(ctx, "camera-1", "nope")
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestUploadRepository_ListByStream(t *testing.T) {
	ctx := context.Background()
	repo := NewUploadRepository(newTestDB(t))

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, repo.Create(ctx, newUpload("camera-1", base.Add(time.Duration(i)*time.Minute))))
	}
	require.NoError(t, repo.Create(ctx, newUpload("camera-2", base)))

	uploads, err := repo.ListByStream(ctx, "camera-1", 2)
	require.NoError(t, err)
	require.Len(t, uploads, 2)
	require.True(t, uploads[0].StartedAt.After(uploads[1].StartedAt))

	uploads, err = repo.ListByStream(ctx, "camera-3", 10)
	require.NoError(t, err)
	require.Empty(t, uploads)
}

func TestUploadRepository_FindByFragment(t *testing.T) {
	ctx := context.Background()
	repo := NewUploadRepository(newTestDB(t))

	upload := newUpload("camera-1", time.Now().UTC(), "91343852333181506")
	require.NoError(t, repo.Create(ctx, upload))

	got, err := repo.FindByFragment(ctx, "camera-1", "91343852333181506")
	require.NoError(t, err)
	require.Equal(t, upload.ID, got.ID)

	_, err = repo.FindByFragment(ctx, "camera-2", "91343852333181506")
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestUploadRepository_CreateRejectsInvalid(t *testing.T) {
	ctx := context.Background()
	repo := NewUploadRepository(newTestDB(t))
	started := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		mutate func(u *domain.UploadRecord)
	}{
		{name: "missing id", mutate: func(u *domain.UploadRecord) { u.ID = uuid.Nil }},
		{name: "missing stream", mutate: func(u *domain.UploadRecord) { u.StreamName = "" }},
		{name: "short digest", mutate: func(u *domain.UploadRecord) { u.MediaSHA256 = "abc" }},
		{name: "non-hex digest", mutate: func(u *domain.UploadRecord) { u.MediaSHA256 = strings.Repeat("z", 64) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := newUpload("camera-1", started, "1")
			tt.mutate(u)
			require.ErrorIs(t, repo.Create(ctx, u), repository.ErrInvalidUpload)
		})
	}

	uploads, err := repo.ListByStream(ctx, "camera-1", 10)
	require.NoError(t, err)
	require.Empty(t, uploads)
}
