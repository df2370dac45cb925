package storage_test

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/shadow-atlas/acquisition/internal/storage"
	"github.com/shadow-atlas/acquisition/internal/testutil"
)

var testDB *storage.DB

func TestMain(m *testing.M) {
	ctx := context.Background()

	tc := testutil.MustStartPostgres()
	defer tc.Terminate()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	db, err := tc.NewTestDB(ctx, logger)
	if err != nil {
		os.Stderr.WriteString("storage_test: " + err.Error() + "\n")
		os.Exit(1)
	}
	testDB = db

	code := m.Run()
	testDB.Close()
	os.Exit(code)
}
