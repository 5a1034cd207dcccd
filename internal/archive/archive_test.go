package archive

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hibiki-ai/hibiki/pkg/types"
)

var testFormat = types.PCMFormat{SampleRate: 24000, Channels: 1, BytesPerSample: 2}

func testRecord() *Record {
	return &Record{
		TurnID:     uuid.New(),
		StartedAt:  time.Now().Add(-3 * time.Second),
		EndedAt:    time.Now(),
		Transcript: "今日の天気は？",
		Reply:      "今日は晴れです。",
		Audio:      []byte{1, 2, 3, 4, 5, 6},
		Format:     testFormat,
	}
}

func TestFileStore_Save(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	rec := testRecord()
	if err := store.Save(context.Background(), rec); err != nil {
		t.Fatalf("Save: %v", err)
	}

	turnDir := filepath.Join(dir, rec.TurnID.String())

	transcript, err := os.ReadFile(filepath.Join(turnDir, "transcript.txt"))
	if err != nil {
		t.Fatalf("read transcript: %v", err)
	}
	if string(transcript) != rec.Transcript {
		t.Errorf("transcript = %q, want %q", transcript, rec.Transcript)
	}

	reply, err := os.ReadFile(filepath.Join(turnDir, "reply.txt"))
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if string(reply) != rec.Reply {
		t.Errorf("reply = %q, want %q", reply, rec.Reply)
	}

	wav, err := os.ReadFile(filepath.Join(turnDir, "audio.wav"))
	if err != nil {
		t.Fatalf("read audio: %v", err)
	}
	if string(wav[:4]) != "RIFF" {
		t.Error("audio.wav is not a RIFF file")
	}
	if got := binary.LittleEndian.Uint32(wav[24:28]); got != 24000 {
		t.Errorf("wav sample rate = %d, want 24000", got)
	}
	if !strings.HasSuffix(string(wav), string(rec.Audio)) {
		t.Error("wav payload does not end with the PCM data")
	}
}

func TestFileStore_SaveWithoutAudio(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	rec := testRecord()
	rec.Audio = nil
	if err := store.Save(context.Background(), rec); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, rec.TurnID.String(), "audio.wav")); !os.IsNotExist(err) {
		t.Error("expected no audio.wav for a record without audio")
	}
}

func TestFileStore_RejectsNilTurnID(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if err := store.Save(context.Background(), &Record{}); err == nil {
		t.Fatal("expected error for record without turn id")
	}
}

func TestNewFileStore_EmptyDir(t *testing.T) {
	if _, err := NewFileStore(""); err == nil {
		t.Fatal("expected error for empty dir")
	}
}

// ---------------------------------------------------------------------------
// PostgresStore — mock DB
// ---------------------------------------------------------------------------

type execCall struct {
	sql  string
	args []any
}

type mockDB struct {
	execCalls []execCall
	execErr   error
	row       pgx.Row
}

func (db *mockDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	db.execCalls = append(db.execCalls, execCall{sql: sql, args: args})
	return pgconn.CommandTag{}, db.execErr
}

func (db *mockDB) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	return db.row
}

type mockRow struct {
	scanFunc func(dest ...any) error
}

func (r *mockRow) Scan(dest ...any) error { return r.scanFunc(dest...) }

func TestPostgresStore_Migrate(t *testing.T) {
	db := &mockDB{}
	store := NewPostgresStore(db)

	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if len(db.execCalls) != 1 {
		t.Fatalf("expected 1 exec, got %d", len(db.execCalls))
	}
	if !strings.Contains(db.execCalls[0].sql, "CREATE TABLE IF NOT EXISTS turn_archive") {
		t.Error("migrate did not execute the schema DDL")
	}
}

func TestPostgresStore_Save(t *testing.T) {
	db := &mockDB{}
	store := NewPostgresStore(db)

	rec := testRecord()
	if err := store.Save(context.Background(), rec); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if len(db.execCalls) != 1 {
		t.Fatalf("expected 1 exec, got %d", len(db.execCalls))
	}
	call := db.execCalls[0]
	if !strings.Contains(call.sql, "INSERT INTO turn_archive") {
		t.Error("save did not insert into turn_archive")
	}
	if !strings.Contains(call.sql, "ON CONFLICT (turn_id) DO UPDATE") {
		t.Error("save must be an upsert")
	}
	if len(call.args) != 9 {
		t.Fatalf("expected 9 args, got %d", len(call.args))
	}
	if call.args[0] != rec.TurnID.String() {
		t.Errorf("arg 0 = %v, want turn id", call.args[0])
	}
	if call.args[3] != rec.Transcript {
		t.Errorf("arg 3 = %v, want transcript", call.args[3])
	}
	if call.args[6] != testFormat.SampleRate {
		t.Errorf("arg 6 = %v, want sample rate", call.args[6])
	}
}

func TestPostgresStore_SaveRejectsNilTurnID(t *testing.T) {
	store := NewPostgresStore(&mockDB{})
	if err := store.Save(context.Background(), &Record{}); err == nil {
		t.Fatal("expected error for record without turn id")
	}
}

func TestPostgresStore_Get(t *testing.T) {
	rec := testRecord()
	db := &mockDB{
		row: &mockRow{scanFunc: func(dest ...any) error {
			*dest[0].(*time.Time) = rec.StartedAt
			*dest[1].(*time.Time) = rec.EndedAt
			*dest[2].(*string) = rec.Transcript
			*dest[3].(*string) = rec.Reply
			*dest[4].(*[]byte) = rec.Audio
			*dest[5].(*int) = rec.Format.SampleRate
			*dest[6].(*int) = rec.Format.Channels
			*dest[7].(*string) = rec.VideoPath
			return nil
		}},
	}
	store := NewPostgresStore(db)

	got, err := store.Get(context.Background(), rec.TurnID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Transcript != rec.Transcript || got.Reply != rec.Reply {
		t.Errorf("Get = %+v, want %+v", got, rec)
	}
	if got.Format.SampleRate != rec.Format.SampleRate {
		t.Errorf("sample rate = %d, want %d", got.Format.SampleRate, rec.Format.SampleRate)
	}
}
