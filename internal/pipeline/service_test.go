package pipeline_test

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"testing"

	"imgshift/internal/batch"
	"imgshift/internal/config"
	"imgshift/internal/conversion"
	"imgshift/internal/imageformat"
	"imgshift/internal/logging"
	"imgshift/internal/pipeline"
	"imgshift/internal/services"
	"imgshift/internal/testsupport"
)

func newService(t *testing.T, opts ...testsupport.ConfigOption) (*pipeline.Service, *config.Config) {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	svc, err := pipeline.Build(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(func() { svc.Shutdown() })
	return svc, cfg
}

func jpegUploads(t *testing.T, n int) []pipeline.Upload {
	t.Helper()
	uploads := make([]pipeline.Upload, 0, n)
	for i := 0; i < n; i++ {
		uploads = append(uploads, pipeline.Upload{
			Name: "photo.jpg",
			Data: testsupport.ImageBytes(t, imageformat.JPEG, 32+i, 24),
		})
	}
	return uploads
}

func readZip(t *testing.T, svc *pipeline.Service, id string) []string {
	t.Helper()
	f, view, err := svc.OpenDownload(id)
	if err != nil {
		t.Fatalf("OpenDownload: %v", err)
	}
	data, err := io.ReadAll(f)
	_ = f.Close()
	if err != nil {
		t.Fatalf("read download: %v", err)
	}
	if int64(len(data)) != view.Size {
		t.Fatalf("download size %d, view reports %d", len(data), view.Size)
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("open zip: %v", err)
	}
	var names []string
	for _, file := range zr.File {
		names = append(names, file.Name)
		rc, err := file.Open()
		if err != nil {
			t.Fatalf("open entry %s: %v", file.Name, err)
		}
		body, _ := io.ReadAll(rc)
		_ = rc.Close()
		if format, err := imageformat.Detect(body); err != nil || format != imageformat.WEBP {
			t.Fatalf("entry %s is %q (%v), want WEBP", file.Name, format, err)
		}
	}
	sort.Strings(names)
	return names
}

func TestConvertFiveJPEGsToWebP(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	res, err := svc.Ingest(ctx, "chat-1", jpegUploads(t, 5))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Added != 5 || res.Batch.State != string(batch.StateAwaitingFormat) {
		t.Fatalf("unexpected ingest result %+v", res)
	}
	if res.Batch.Formats["JPEG"] != 5 {
		t.Fatalf("expected 5 JPEG in breakdown, got %v", res.Batch.Formats)
	}

	if _, err := svc.SelectFormat(ctx, "chat-1", "convert_webp"); err != nil {
		t.Fatalf("SelectFormat: %v", err)
	}

	var events []conversion.Progress
	result, err := svc.Convert(ctx, "chat-1", func(p conversion.Progress) { events = append(events, p) })
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if result.Summary.Succeeded != 5 || result.Summary.Failed != 0 {
		t.Fatalf("unexpected summary %+v", result.Summary)
	}
	if len(events) != 5 || events[len(events)-1].Completed != 5 {
		t.Fatalf("expected 5 progress events ending at 5, got %d", len(events))
	}
	for i := 1; i < len(events); i++ {
		if events[i].Completed < events[i-1].Completed {
			t.Fatalf("progress went backwards at %d", i)
		}
	}
	if result.Download == nil {
		t.Fatal("expected a download")
	}

	names := readZip(t, svc, result.Download.ID)
	want := []string{"photo.webp", "photo_1.webp", "photo_2.webp", "photo_3.webp", "photo_4.webp"}
	if fmt.Sprint(names) != fmt.Sprint(want) {
		t.Fatalf("zip entries %v, want %v", names, want)
	}

	snap, err := svc.Stats("admin", "today")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if snap.ImagesCount != 5 || snap.Histogram["JPEG"] != 5 {
		t.Fatalf("unexpected today stats %+v", snap)
	}
	if snap.BytesIn != result.Summary.BytesIn || snap.BytesOut != result.Summary.BytesOut {
		t.Fatalf("stats bytes %d/%d do not match summary %d/%d", snap.BytesIn, snap.BytesOut, result.Summary.BytesIn, result.Summary.BytesOut)
	}

	if _, err := svc.Describe(ctx, "chat-1"); !errors.Is(err, pipeline.ErrNoBatch) {
		t.Fatalf("expected batch retired after convert, got %v", err)
	}
	if !svc.ReleaseDownload(result.Download.ID) {
		t.Fatal("expected download release")
	}
	if live := svc.Files().Live(); live != 0 {
		t.Fatalf("expected no live temp files, got %d", live)
	}
}

func TestArchiveOverLimitAdmitsNothing(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	png := testsupport.ImageBytes(t, imageformat.PNG, 8, 8)
	entries := make([]testsupport.Entry, 60)
	for i := range entries {
		entries[i] = testsupport.Entry{Name: fmt.Sprintf("img%02d.png", i), Data: png}
	}
	_, err := svc.Ingest(ctx, "chat-2", []pipeline.Upload{{Name: "bundle.zip", Data: testsupport.ZipBytes(t, entries...)}})
	if !errors.Is(err, batch.ErrBatchFull) {
		t.Fatalf("expected ErrBatchFull, got %v", err)
	}
	if pipeline.Classify(err) != services.KindInvalidInput {
		t.Fatalf("unexpected classification %q", pipeline.Classify(err))
	}
	if _, err := svc.Describe(ctx, "chat-2"); !errors.Is(err, pipeline.ErrNoBatch) {
		t.Fatalf("expected no batch, got %v", err)
	}
	if live := svc.Files().Live(); live != 0 {
		t.Fatalf("expected no leaked temp files, got %d", live)
	}
}

func TestSecondUploadOverflowKeepsFirst(t *testing.T) {
	svc, _ := newService(t, testsupport.WithMaxBatchItems(4))
	ctx := context.Background()

	if _, err := svc.Ingest(ctx, "chat-3", jpegUploads(t, 3)); err != nil {
		t.Fatalf("first Ingest: %v", err)
	}
	if _, err := svc.Ingest(ctx, "chat-3", jpegUploads(t, 2)); !errors.Is(err, batch.ErrBatchFull) {
		t.Fatalf("expected ErrBatchFull, got %v", err)
	}
	view, err := svc.Describe(ctx, "chat-3")
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if len(view.Items) != 3 {
		t.Fatalf("expected first upload intact, got %d items", len(view.Items))
	}
	if live := svc.Files().Live(); live != 3 {
		t.Fatalf("expected 3 live temp files, got %d", live)
	}

	res, err := svc.Ingest(ctx, "chat-3", jpegUploads(t, 1))
	if err != nil {
		t.Fatalf("third Ingest: %v", err)
	}
	if len(res.Batch.Items) != 4 || res.Batch.ID != view.ID {
		t.Fatalf("expected same batch extended to 4, got %+v", res.Batch)
	}
}

func TestCorruptItemFailsAlone(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	uploads := []pipeline.Upload{}
	for i := 0; i < 4; i++ {
		uploads = append(uploads, pipeline.Upload{Name: fmt.Sprintf("p%d.png", i), Data: testsupport.ImageBytes(t, imageformat.PNG, 16, 16)})
	}
	uploads = append(uploads, pipeline.Upload{Name: "broken.jpg", Data: testsupport.CorruptJPEG()})
	if _, err := svc.Ingest(ctx, "chat-4", uploads); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if _, err := svc.SelectFormat(ctx, "chat-4", "webp"); err != nil {
		t.Fatalf("SelectFormat: %v", err)
	}
	result, err := svc.Convert(ctx, "chat-4", nil)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	s := result.Summary
	if s.Succeeded != 4 || s.Failed != 1 {
		t.Fatalf("expected 4 succeeded 1 failed, got %+v", s)
	}
	view := result.View()
	if len(view.FailedItems) != 1 || view.FailedItems[0] != "broken.jpg" {
		t.Fatalf("unexpected failed items %v", view.FailedItems)
	}
	for _, item := range s.Items {
		if item.Status == batch.StatusFailed && item.Attempts != 3 {
			t.Fatalf("expected 3 attempts for failed item, got %d", item.Attempts)
		}
	}
	if names := readZip(t, svc, result.Download.ID); len(names) != 4 {
		t.Fatalf("expected 4 entries, got %v", names)
	}
	svc.ReleaseDownload(result.Download.ID)
	if live := svc.Files().Live(); live != 0 {
		t.Fatalf("expected no live temp files, got %d", live)
	}
}

func TestConvertRequiresTarget(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	if _, err := svc.Ingest(ctx, "chat-5", jpegUploads(t, 1)); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if _, err := svc.Convert(ctx, "chat-5", nil); !errors.Is(err, batch.ErrNoTarget) {
		t.Fatalf("expected ErrNoTarget, got %v", err)
	}
	if _, err := svc.Convert(ctx, "chat-none", nil); !errors.Is(err, pipeline.ErrNoBatch) {
		t.Fatalf("expected ErrNoBatch, got %v", err)
	}
}

func TestIngestRejections(t *testing.T) {
	cases := []struct {
		name    string
		uploads []pipeline.Upload
		target  error
		kind    string
	}{
		{"empty", nil, pipeline.ErrNoImages, services.KindInvalidInput},
		{"text file", []pipeline.Upload{{Name: "notes.txt", Data: []byte("hello world")}}, imageformat.ErrUnsupportedFormat, services.KindInvalidInput},
		{"too large", []pipeline.Upload{{Name: "huge.png", Data: make([]byte, 2048)}}, pipeline.ErrFileTooLarge, services.KindInvalidInput},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, cfg := newService(t)
			cfg.Limits.MaxFileBytes = 1024
			_, err := svc.Ingest(context.Background(), "chat-6", tc.uploads)
			if !errors.Is(err, tc.target) {
				t.Fatalf("expected %v, got %v", tc.target, err)
			}
			if got := pipeline.Classify(err); got != tc.kind {
				t.Fatalf("classification %q, want %q", got, tc.kind)
			}
			if live := svc.Files().Live(); live != 0 {
				t.Fatalf("expected no live temp files, got %d", live)
			}
		})
	}
}

func TestTamperedSessionIsRejected(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	if _, err := svc.Ingest(ctx, "chat-7", jpegUploads(t, 2)); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	blob, ok := svc.Sessions().Blob("chat-7")
	if !ok {
		t.Fatal("expected stored session")
	}
	blob[len(blob)-1] ^= 0xFF
	svc.Sessions().Put("chat-7", blob)

	_, err := svc.Describe(ctx, "chat-7")
	if pipeline.Classify(err) != services.KindTampered {
		t.Fatalf("expected tampered, got %v", err)
	}
	if live := svc.Files().Live(); live != 0 {
		t.Fatalf("expected tampered session's batch to be released, %d temp files live", live)
	}

	result, err := svc.Ingest(ctx, "chat-7", jpegUploads(t, 1))
	if err != nil {
		t.Fatalf("re-ingest after tamper: %v", err)
	}
	if n := len(result.Batch.Items); n != 1 {
		t.Fatalf("expected a fresh batch with 1 item, got %d", n)
	}
}

func TestBuildWithoutSaltUsesRandomSalt(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Session.Salt = ""
	svc, err := pipeline.Build(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("Build with empty salt: %v", err)
	}
	t.Cleanup(func() { svc.Shutdown() })

	ctx := context.Background()
	if _, err := svc.Ingest(ctx, "chat-9", jpegUploads(t, 1)); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	view, err := svc.Describe(ctx, "chat-9")
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if len(view.Items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(view.Items))
	}
}

func TestStatsRestrictedToAdmin(t *testing.T) {
	svc, _ := newService(t)
	if _, err := svc.Stats("someone", "all"); !errors.Is(err, pipeline.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := svc.Stats("admin", "fortnight"); pipeline.Classify(err) != services.KindInvalidInput {
		t.Fatalf("expected invalid scope, got %v", err)
	}
	snap, err := svc.Stats("admin", "all")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if snap.ImagesCount != 0 || snap.Period != "all" {
		t.Fatalf("unexpected empty snapshot %+v", snap)
	}
}

func TestSelectFormatRejectsUnknown(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	if _, err := svc.Ingest(ctx, "chat-8", jpegUploads(t, 1)); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if _, err := svc.SelectFormat(ctx, "chat-8", "convert_heic"); !errors.Is(err, imageformat.ErrUnsupportedFormat) {
		t.Fatalf("expected unsupported format, got %v", err)
	}
}

func TestOutputName(t *testing.T) {
	seen := map[string]bool{}
	cases := []struct{ in, want string }{
		{"cat.jpg", "cat.webp"},
		{"cat.png", "cat_1.webp"},
		{"CAT.gif", "CAT_2.webp"},
		{".hidden", "image.webp"},
		{"dog", "dog.webp"},
	}
	for _, tc := range cases {
		if got := pipeline.OutputName(tc.in, ".webp", seen); got != tc.want {
			t.Fatalf("OutputName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
