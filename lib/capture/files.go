// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package capture

import (
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
	"github.com/zeebo/blake3"
)

// fileSummary describes a stored file as it exists on disk.
type fileSummary struct {
	size   int64
	digest string
}

// digestWriter hashes everything written through it.
type digestWriter struct {
	file   *os.File
	hasher *blake3.Hasher
}

func createDigestWriter(path string) (*digestWriter, error) {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, err
	}
	return &digestWriter{file: file, hasher: blake3.New()}, nil
}

func (w *digestWriter) Write(p []byte) (int, error) {
	n, err := w.file.Write(p)
	w.hasher.Write(p[:n])
	return n, err
}

// finish closes the file and reports its on-disk size.
func (w *digestWriter) finish() (fileSummary, error) {
	if err := w.file.Close(); err != nil {
		return fileSummary{}, err
	}
	info, err := os.Stat(w.file.Name())
	if err != nil {
		return fileSummary{}, err
	}
	return fileSummary{size: info.Size(), digest: hex.EncodeToString(w.hasher.Sum(nil))}, nil
}

// copyFile copies source, which must still be the file described by
// expected when it is opened.
func copyFile(target, source string, expected os.FileInfo) (fileSummary, error) {
	input, err := os.OpenFile(source, os.O_RDONLY|syscall.O_NOFOLLOW, 0)
	if err != nil {
		return fileSummary{}, err
	}
	defer input.Close()
	opened, err := input.Stat()
	if err != nil {
		return fileSummary{}, err
	}
	if !os.SameFile(opened, expected) {
		return fileSummary{}, fmt.Errorf("%s changed while being captured", source)
	}

	output, err := createDigestWriter(target)
	if err != nil {
		return fileSummary{}, err
	}
	if _, err := io.Copy(output, input); err != nil {
		output.file.Close()
		return fileSummary{}, fmt.Errorf("copying %s: %w", source, err)
	}
	return output.finish()
}

// writeArchive zips the tree under root. Entry names are relative to
// root with forward slashes; symlinks and other non-regular files are
// skipped.
func writeArchive(target, root string) (fileSummary, error) {
	output, err := createDigestWriter(target)
	if err != nil {
		return fileSummary{}, err
	}
	archive := zip.NewWriter(output)
	archive.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, flate.BestSpeed)
	})

	walkErr := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		relative, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(relative)
		if entry.IsDir() {
			_, err := archive.Create(name + "/")
			return err
		}
		if !entry.Type().IsRegular() {
			return nil
		}
		return addArchiveFile(archive, name, path)
	})
	if walkErr != nil {
		archive.Close()
		output.file.Close()
		return fileSummary{}, fmt.Errorf("archiving %s: %w", root, walkErr)
	}
	if err := archive.Close(); err != nil {
		output.file.Close()
		return fileSummary{}, fmt.Errorf("archiving %s: %w", root, err)
	}
	return output.finish()
}

func addArchiveFile(archive *zip.Writer, name, path string) error {
	input, err := os.OpenFile(path, os.O_RDONLY|syscall.O_NOFOLLOW, 0)
	if err != nil {
		return err
	}
	defer input.Close()
	info, err := input.Stat()
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s changed while being captured", path)
	}
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	header.Name = name
	header.Method = zip.Deflate
	writer, err := archive.CreateHeader(header)
	if err != nil {
		return err
	}
	_, err = io.Copy(writer, input)
	return err
}
