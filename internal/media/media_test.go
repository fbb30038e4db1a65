package media

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"bilimusic/internal/core"
)

func TestDownloader_Download(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Referer"); got != "https://www.bilibili.com/video/BV1abc" {
			t.Errorf("Referer = %q", got)
		}
		if got := r.Header.Get("Origin"); got != "https://www.bilibili.com" {
			t.Errorf("Origin = %q", got)
		}
		_, _ = w.Write([]byte(strings.Repeat("a", 20000)))
	}))
	defer server.Close()

	header := http.Header{}
	header.Set("Referer", "https://www.bilibili.com/video/BV1abc")
	header.Set("Origin", "https://www.bilibili.com")

	dst := filepath.Join(t.TempDir(), "audio.m4a")
	downloader := NewDownloader(time.Second, zap.NewNop())

	written, err := downloader.Download(context.Background(), server.URL+"/audio.m4s", dst, header)
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if written != 20000 {
		t.Errorf("Download() wrote %d bytes, want 20000", written)
	}

	content, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if len(content) != 20000 {
		t.Errorf("file has %d bytes, want 20000", len(content))
	}
}

func TestDownloader_DownloadFailures(t *testing.T) {
	tests := []struct {
		name     string
		handler  http.HandlerFunc
		timeout  time.Duration
		wantKind core.ErrorKind
		check    func(t *testing.T, err error)
	}{
		{
			name: "Forbidden",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusForbidden)
			},
			wantKind: core.KindUpstream,
			check: func(t *testing.T, err error) {
				var statusErr *StatusError
				if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusForbidden {
					t.Errorf("error %v is not a 403 StatusError", err)
				}
			},
		},
		{
			name: "Timeout",
			handler: func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-r.Context().Done():
				case <-time.After(2 * time.Second):
				}
			},
			timeout:  50 * time.Millisecond,
			wantKind: core.KindTransport,
		},
		{
			name: "Truncated body",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Length", "1000")
				_, _ = w.Write([]byte("short"))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			timeout := tt.timeout
			if timeout == 0 {
				timeout = time.Second
			}
			dst := filepath.Join(t.TempDir(), "out.bin")

			_, err := NewDownloader(timeout, zap.NewNop()).Download(context.Background(), server.URL, dst, nil)
			if !errors.Is(err, core.ErrDownloadFailed) {
				t.Fatalf("Download() error = %v, want ErrDownloadFailed", err)
			}
			if tt.wantKind != "" {
				if kind := core.Classify(err); kind != tt.wantKind {
					t.Errorf("Classify() = %q, want %q", kind, tt.wantKind)
				}
			}
			if tt.check != nil {
				tt.check(t, err)
			}
			if _, statErr := os.Stat(dst); !os.IsNotExist(statErr) {
				t.Errorf("destination should not exist after failure, stat error = %v", statErr)
			}
		})
	}
}

func TestDownloader_DownloadUnwritableDestination(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("cover"))
	}))
	defer server.Close()

	dst := filepath.Join(t.TempDir(), "missing", "cover.jpg")

	_, err := NewDownloader(time.Second, zap.NewNop()).Download(context.Background(), server.URL, dst, nil)
	if !errors.Is(err, core.ErrDownloadFailed) {
		t.Fatalf("Download() error = %v, want ErrDownloadFailed", err)
	}
	if kind := core.Classify(err); kind != core.KindUpstream {
		t.Errorf("Classify() = %q, want %q", kind, core.KindUpstream)
	}
	if !strings.Contains(err.Error(), dst) {
		t.Errorf("error %q does not name the destination", err)
	}
}

func TestArgs(t *testing.T) {
	base := core.MuxRequest{
		AudioPath:  "/tmp/temp_audio_1.m4a",
		CoverPath:  "/tmp/temp_cover_1.jpg",
		OutputPath: "/out/晴天_1.mp3",
		Title:      "晴天",
		Artist:     "周杰伦",
	}

	tests := []struct {
		name     string
		format   string
		expected []string
		wantErr  bool
	}{
		{
			name:   "MP3",
			format: core.FormatMP3,
			expected: []string{
				"-i", "/tmp/temp_audio_1.m4a",
				"-i", "/tmp/temp_cover_1.jpg",
				"-map", "0:0",
				"-map", "1:0",
				"-metadata", "title=晴天",
				"-metadata", "artist=周杰伦",
				"-id3v2_version", "3",
				"-codec:v", "copy",
				"-y", "/out/晴天_1.mp3",
			},
		},
		{
			name:   "M4A",
			format: core.FormatM4A,
			expected: []string{
				"-i", "/tmp/temp_audio_1.m4a",
				"-i", "/tmp/temp_cover_1.jpg",
				"-map", "0:0",
				"-map", "1:0",
				"-metadata", "title=晴天",
				"-metadata", "artist=周杰伦",
				"-c", "copy",
				"-disposition:v:0", "attached_pic",
				"-y", "/out/晴天_1.mp3",
			},
		},
		{
			name:    "Unsupported",
			format:  "flac",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := base
			req.Format = tt.format

			args, err := Args(req)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Args() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && !reflect.DeepEqual(args, tt.expected) {
				t.Errorf("Args() = %v, want %v", args, tt.expected)
			}
		})
	}
}

// writeFakeFFmpeg installs a shell script standing in for ffmpeg.
func writeFakeFFmpeg(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake ffmpeg needs a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "ffmpeg")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o700); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestFFmpeg_Mux(t *testing.T) {
	dir := t.TempDir()
	argsFile := filepath.Join(dir, "args.txt")
	path := writeFakeFFmpeg(t, `printf '%s\n' "$@" > "`+argsFile+`"
for last; do :; done
printf 'ID3' > "$last"
`)

	req := core.MuxRequest{
		AudioPath:  filepath.Join(dir, "a.m4a"),
		CoverPath:  filepath.Join(dir, "c.jpg"),
		OutputPath: filepath.Join(dir, "out.mp3"),
		Title:      "Title with spaces",
		Artist:     "Artist",
		Format:     core.FormatMP3,
	}

	if err := NewFFmpeg(path, 5*time.Second, zap.NewNop()).Mux(context.Background(), req); err != nil {
		t.Fatalf("Mux() error = %v", err)
	}

	if _, err := os.Stat(req.OutputPath); err != nil {
		t.Errorf("output not created: %v", err)
	}

	recorded, err := os.ReadFile(argsFile)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	expected, _ := Args(req)
	if got := strings.Split(strings.TrimSuffix(string(recorded), "\n"), "\n"); !reflect.DeepEqual(got, expected) {
		t.Errorf("ffmpeg received %v, want %v", got, expected)
	}
}

func TestFFmpeg_MuxFailure(t *testing.T) {
	path := writeFakeFFmpeg(t, `printf 'cover.jpg: Invalid data found when processing input\n' >&2
exit 3
`)

	err := NewFFmpeg(path, 5*time.Second, zap.NewNop()).Mux(context.Background(), core.MuxRequest{
		AudioPath: "a", CoverPath: "b", OutputPath: "c", Format: core.FormatMP3,
	})

	var muxErr *MuxError
	if !errors.As(err, &muxErr) {
		t.Fatalf("Mux() error = %v, want *MuxError", err)
	}
	if muxErr.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", muxErr.ExitCode)
	}
	if muxErr.Stderr != "cover.jpg: Invalid data found when processing input\n" {
		t.Errorf("Stderr = %q, want verbatim tool output", muxErr.Stderr)
	}
	if !errors.Is(err, core.ErrMuxFailed) {
		t.Error("MuxError should match core.ErrMuxFailed")
	}
	if kind := core.Classify(err); kind != core.KindTool {
		t.Errorf("Classify() = %q, want %q", kind, core.KindTool)
	}
}

func TestFFmpeg_Missing(t *testing.T) {
	ffmpeg := NewFFmpeg(filepath.Join(t.TempDir(), "no-such-ffmpeg"), time.Second, zap.NewNop())

	if err := ffmpeg.Check(); !errors.Is(err, core.ErrToolMissing) {
		t.Errorf("Check() error = %v, want ErrToolMissing", err)
	}

	err := ffmpeg.Mux(context.Background(), core.MuxRequest{AudioPath: "a", CoverPath: "b", OutputPath: "c"})
	if !errors.Is(err, core.ErrToolMissing) {
		t.Errorf("Mux() error = %v, want ErrToolMissing", err)
	}
}
