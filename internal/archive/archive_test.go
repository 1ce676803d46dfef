package archive_test

import (
	"errors"
	"testing"

	"imgshift/internal/archive"
	"imgshift/internal/imageformat"
	"imgshift/internal/testsupport"
)

func sampleEntries(t *testing.T) []testsupport.Entry {
	t.Helper()
	return []testsupport.Entry{
		{Name: "photos/a.jpg", Data: testsupport.ImageBytes(t, imageformat.JPEG, 8, 8)},
		{Name: "readme.txt", Data: []byte("not an image")},
		{Name: "photos/b.dat", Data: testsupport.ImageBytes(t, imageformat.PNG, 8, 8)},
	}
}

func TestExtractAllKinds(t *testing.T) {
	entries := sampleEntries(t)
	cases := []struct {
		name string
		kind archive.Kind
		data []byte
	}{
		{"zip", archive.KindZip, testsupport.ZipBytes(t, entries...)},
		{"tar", archive.KindTar, testsupport.TarBytes(t, entries...)},
		{"tar.gz", archive.KindTarGz, testsupport.TarGzBytes(t, entries...)},
		{"tar.xz", archive.KindTarXz, testsupport.TarXzBytes(t, entries...)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := archive.DetectKind(tc.data); got != tc.kind {
				t.Fatalf("DetectKind = %q, want %q", got, tc.kind)
			}
			images, stats, err := archive.Extract(tc.data, archive.Limits{MaxEntries: 10, MaxBytes: 1 << 20})
			if err != nil {
				t.Fatalf("Extract: %v", err)
			}
			if len(images) != 2 {
				t.Fatalf("expected 2 images, got %d", len(images))
			}
			if stats.Skipped != 1 || stats.Entries != 3 {
				t.Fatalf("unexpected stats %+v", stats)
			}
			if images[0].Name != "a.jpg" || images[0].Format != imageformat.JPEG {
				t.Fatalf("unexpected first entry %s/%s", images[0].Name, images[0].Format)
			}
			if images[1].Name != "b.dat" || images[1].Format != imageformat.PNG {
				t.Fatalf("format must come from bytes, got %s/%s", images[1].Name, images[1].Format)
			}
		})
	}
}

func TestExtractEnforcesEntryLimit(t *testing.T) {
	img := testsupport.ImageBytes(t, imageformat.GIF, 2, 2)
	var entries []testsupport.Entry
	for i := 0; i < 5; i++ {
		entries = append(entries, testsupport.Entry{Name: "img.gif", Data: img})
	}
	data := testsupport.ZipBytes(t, entries...)

	images, _, err := archive.Extract(data, archive.Limits{MaxEntries: 4})
	if !errors.Is(err, archive.ErrArchiveTooLarge) {
		t.Fatalf("expected ErrArchiveTooLarge, got %v", err)
	}
	if images != nil {
		t.Fatalf("expected no partial entries, got %d", len(images))
	}
}

func TestExtractEnforcesByteLimit(t *testing.T) {
	big := make([]byte, 64<<10)
	data := testsupport.TarGzBytes(t,
		testsupport.Entry{Name: "a.bin", Data: big},
		testsupport.Entry{Name: "b.bin", Data: big},
	)
	_, stats, err := archive.Extract(data, archive.Limits{MaxBytes: 100 << 10})
	if !errors.Is(err, archive.ErrArchiveTooLarge) {
		t.Fatalf("expected ErrArchiveTooLarge, got %v", err)
	}
	if stats.Bytes > (100<<10)+1 {
		t.Fatalf("reader consumed past the limit: %d", stats.Bytes)
	}
}

func TestExtractCorrupt(t *testing.T) {
	good := testsupport.ZipBytes(t, sampleEntries(t)...)
	truncated := good[:len(good)/2]
	if _, _, err := archive.Extract(truncated, archive.Limits{}); !errors.Is(err, archive.ErrCorruptArchive) {
		t.Fatalf("expected ErrCorruptArchive for truncated zip, got %v", err)
	}
	badGzip := []byte{0x1f, 0x8b, 0x00, 0x01, 0x02}
	if _, _, err := archive.Extract(badGzip, archive.Limits{}); !errors.Is(err, archive.ErrCorruptArchive) {
		t.Fatalf("expected ErrCorruptArchive for bad gzip, got %v", err)
	}
}

func TestWalkRejectsPlainImages(t *testing.T) {
	data := testsupport.ImageBytes(t, imageformat.PNG, 2, 2)
	if archive.IsArchive(data) {
		t.Fatal("PNG must not be treated as archive")
	}
	if _, err := archive.Walk(data, archive.Limits{}, func(archive.Entry) error { return nil }); !errors.Is(err, archive.ErrNotArchive) {
		t.Fatalf("expected ErrNotArchive, got %v", err)
	}
}

func TestWalkStopsOnCallbackError(t *testing.T) {
	data := testsupport.TarBytes(t, sampleEntries(t)...)
	stop := errors.New("stop")
	calls := 0
	_, err := archive.Walk(data, archive.Limits{}, func(archive.Entry) error {
		calls++
		return stop
	})
	if !errors.Is(err, stop) || calls != 1 {
		t.Fatalf("expected stop after first entry, calls=%d err=%v", calls, err)
	}
}
