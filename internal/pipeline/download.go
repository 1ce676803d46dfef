package pipeline

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"imgshift/internal/batch"
	"imgshift/internal/logging"
	"imgshift/internal/tempfiles"
)

// ArchiveTimeLayout formats the timestamp in result archive names.
const ArchiveTimeLayout = "20060102_150405"

type download struct {
	view   DownloadView
	handle tempfiles.Handle
}

// ArchiveName returns the result archive name for t.
func ArchiveName(t time.Time) string {
	return "converted_images_" + t.Format(ArchiveTimeLayout) + ".zip"
}

// OutputName swaps the extension of name for ext. Names already in seen get
// a numeric suffix; the chosen name is added to seen.
func OutputName(name, ext string, seen map[string]bool) string {
	base := strings.TrimSuffix(name, path.Ext(name))
	if base == "" {
		base = "image"
	}
	candidate := base + ext
	for n := 1; seen[strings.ToLower(candidate)]; n++ {
		candidate = fmt.Sprintf("%s_%d%s", base, n, ext)
	}
	seen[strings.ToLower(candidate)] = true
	return candidate
}

// pack zips the outputs of every done item into a download.
func (s *Service) pack(b batch.Batch) (DownloadView, error) {
	created := s.now()
	ext := b.Target.Extension()
	seen := make(map[string]bool)
	h, err := s.files.AcquireFrom(".zip", func(w io.Writer) error {
		zw := zip.NewWriter(w)
		for _, item := range b.Items {
			if item.Status != batch.StatusDone || item.Output.IsZero() {
				continue
			}
			header := &zip.FileHeader{
				Name:     OutputName(item.Name, ext, seen),
				Method:   zip.Store,
				Modified: created,
			}
			fw, err := zw.CreateHeader(header)
			if err != nil {
				return err
			}
			f, err := s.files.Open(item.Output)
			if err != nil {
				return fmt.Errorf("open output %d: %w", item.ID, err)
			}
			_, err = io.Copy(fw, f)
			_ = f.Close()
			if err != nil {
				return fmt.Errorf("copy output %d: %w", item.ID, err)
			}
		}
		return zw.Close()
	})
	if err != nil {
		return DownloadView{}, err
	}

	view := DownloadView{ID: uuid.NewString(), Name: ArchiveName(created), Size: h.Size, CreatedAt: created}
	s.mu.Lock()
	s.downloads[view.ID] = download{view: view, handle: h}
	s.mu.Unlock()
	return view, nil
}

// OpenDownload opens a packaged result for streaming.
func (s *Service) OpenDownload(id string) (*os.File, DownloadView, error) {
	s.mu.Lock()
	d, ok := s.downloads[id]
	s.mu.Unlock()
	if !ok {
		return nil, DownloadView{}, ErrNoDownload
	}
	f, err := s.files.Open(d.handle)
	if err != nil {
		return nil, DownloadView{}, fmt.Errorf("%w: %w", ErrNoDownload, err)
	}
	return f, d.view, nil
}

// ReleaseDownload deletes a packaged result. It reports whether anything was
// released.
func (s *Service) ReleaseDownload(id string) bool {
	s.mu.Lock()
	d, ok := s.downloads[id]
	delete(s.downloads, id)
	s.mu.Unlock()
	if !ok {
		return false
	}
	released, err := s.files.Release(d.handle)
	if err != nil {
		logging.WarnWithContext(s.logger, "download release failed", "download_release_failed",
			logging.String("download_id", id),
			logging.Error(err),
		)
	}
	return released
}

// Downloads returns the number of packaged results awaiting pickup.
func (s *Service) Downloads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.downloads)
}

func (s *Service) sweepDownloads(now time.Time) int {
	ttl := s.cfg.SessionTTL()
	if ttl <= 0 {
		return 0
	}
	var expired []string
	s.mu.Lock()
	for id, d := range s.downloads {
		if now.Sub(d.view.CreatedAt) > ttl {
			expired = append(expired, id)
		}
	}
	s.mu.Unlock()
	for _, id := range expired {
		s.ReleaseDownload(id)
	}
	return len(expired)
}
