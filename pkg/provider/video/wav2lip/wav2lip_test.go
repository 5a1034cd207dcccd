package wav2lip

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/hibiki-ai/hibiki/pkg/provider/video"
)

func TestGenerate(t *testing.T) {
	mp4 := []byte("\x00\x00\x00\x18ftypmp42fake-video-bytes")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		file, header, err := r.FormFile("audio")
		if err != nil {
			t.Errorf("missing audio part: %v", err)
			http.Error(w, "missing audio", http.StatusBadRequest)
			return
		}
		defer file.Close()
		if header.Filename != "speech.wav" {
			t.Errorf("unexpected filename %q", header.Filename)
		}
		payload, _ := io.ReadAll(file)
		if string(payload) != "RIFFfake" {
			t.Errorf("unexpected audio payload %q", payload)
		}
		if got := r.FormValue("face_image"); got != "/faces/mika.png" {
			t.Errorf("unexpected face_image %q", got)
		}
		w.Write(mp4)
	}))
	defer srv.Close()

	client, err := New(srv.URL, t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	artifact, err := client.Generate(t.Context(), video.Request{
		AudioWAV:      []byte("RIFFfake"),
		FaceImagePath: "/faces/mika.png",
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !strings.HasSuffix(artifact.Path, ".mp4") {
		t.Errorf("expected .mp4 artifact, got %q", artifact.Path)
	}
	saved, err := os.ReadFile(artifact.Path)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if string(saved) != string(mp4) {
		t.Error("saved artifact does not match server response")
	}
}

func TestGenerate_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "face not found", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	client, err := New(srv.URL, t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = client.Generate(t.Context(), video.Request{AudioWAV: []byte("RIFF")})
	var ue *UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("expected *UpstreamError, got %v", err)
	}
	if ue.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("unexpected status code %d", ue.StatusCode)
	}
	if ue.ErrorClass() != "upstream" {
		t.Errorf("expected upstream class, got %q", ue.ErrorClass())
	}
}

func TestGenerate_EmptyAudio(t *testing.T) {
	client, err := New("http://localhost:1", t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := client.Generate(t.Context(), video.Request{}); err == nil {
		t.Fatal("expected error for empty audio")
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New("", "out"); err == nil {
		t.Error("expected error for empty endpoint")
	}
	if _, err := New("http://localhost:1", ""); err == nil {
		t.Error("expected error for empty outputDir")
	}
}
