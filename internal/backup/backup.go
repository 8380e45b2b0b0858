// Package backup archives the exhibitdesk database (pager settings and the
// lock override audit log) together with its config file, and restores it.
package backup

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/HerbHall/exhibitdesk/internal/store"
	"github.com/HerbHall/exhibitdesk/internal/version"
)

// ManifestName is the archive entry describing the backup.
const ManifestName = "manifest.json"

// ErrExists is returned by Restore when a target file exists and force is off.
var ErrExists = errors.New("file already exists")

// Manifest records what a backup archive contains.
type Manifest struct {
	Version   string    `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	Database  string    `json:"database"`
	Config    string    `json:"config,omitempty"`
}

// Backup writes a tar.gz archive holding the database, the optional config
// file, and a manifest. The WAL is checkpointed first so the copied file is
// self-contained.
func Backup(ctx context.Context, dbPath, configPath, outputPath string) (*Manifest, error) {
	if _, err := os.Stat(dbPath); err != nil {
		return nil, fmt.Errorf("database file not found: %w", err)
	}
	if err := checkpoint(ctx, dbPath); err != nil {
		return nil, fmt.Errorf("WAL checkpoint failed: %w", err)
	}

	m := &Manifest{
		Version:   version.Short(),
		CreatedAt: time.Now().UTC(),
		Database:  filepath.Base(dbPath),
	}
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			m.Config = filepath.Base(configPath)
		}
	}

	outFile, err := os.Create(outputPath)
	if err != nil {
		return nil, fmt.Errorf("creating output file: %w", err)
	}
	defer outFile.Close()

	gw := gzip.NewWriter(outFile)
	tw := tar.NewWriter(gw)

	if err := writeManifest(tw, m); err != nil {
		return nil, err
	}
	if err := addFileToTar(tw, dbPath, m.Database); err != nil {
		return nil, fmt.Errorf("adding database to archive: %w", err)
	}
	if m.Config != "" {
		if err := addFileToTar(tw, configPath, m.Config); err != nil {
			return nil, fmt.Errorf("adding config to archive: %w", err)
		}
	}

	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("closing archive: %w", err)
	}
	if err := gw.Close(); err != nil {
		return nil, fmt.Errorf("closing archive: %w", err)
	}
	return m, nil
}

// Restore extracts an archive made by Backup into dataDir. Existing files
// are kept unless force is set.
func Restore(_ context.Context, inputPath, dataDir string, force bool) (*Manifest, error) {
	f, err := os.Open(inputPath)
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}
	defer f.Close()

	gr, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("reading archive: %w", err)
	}
	defer gr.Close()

	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}

	var m *Manifest
	tr := tar.NewReader(gr)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading archive: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		name := filepath.Base(hdr.Name)
		if name != hdr.Name || strings.HasPrefix(name, ".") {
			return nil, fmt.Errorf("unexpected archive entry %q", hdr.Name)
		}

		if name == ManifestName {
			m = &Manifest{}
			if err := json.NewDecoder(tr).Decode(m); err != nil {
				return nil, fmt.Errorf("decoding manifest: %w", err)
			}
			continue
		}
		if err := extractFile(tr, filepath.Join(dataDir, name), hdr.FileInfo().Mode().Perm(), force); err != nil {
			return nil, err
		}
	}
	if m == nil {
		return nil, fmt.Errorf("archive has no %s", ManifestName)
	}
	return m, nil
}

func extractFile(r io.Reader, target string, perm os.FileMode, force bool) error {
	flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL
	if force {
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}
	out, err := os.OpenFile(target, flags, perm)
	if errors.Is(err, os.ErrExist) {
		return fmt.Errorf("%w: %s (use force to overwrite)", ErrExists, target)
	}
	if err != nil {
		return fmt.Errorf("creating %s: %w", target, err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return fmt.Errorf("writing %s: %w", target, err)
	}
	return out.Close()
}

// checkpoint flushes the WAL of the database at dbPath through the store so
// the copied file is self-contained.
func checkpoint(ctx context.Context, dbPath string) error {
	st, err := store.New(dbPath)
	if err != nil {
		return err
	}
	defer st.Close()
	return st.Checkpoint(ctx)
}

func writeManifest(tw *tar.Writer, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	hdr := &tar.Header{
		Name:    ManifestName,
		Mode:    0o644,
		Size:    int64(len(data)),
		ModTime: m.CreatedAt,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	_, err = tw.Write(data)
	return err
}

// addFileToTar adds a single file to the tar archive under the given name.
func addFileToTar(tw *tar.Writer, filePath, archiveName string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = archiveName

	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}

	_, err = io.Copy(tw, f)
	return err
}
