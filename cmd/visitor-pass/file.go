package main

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// localFile adapts a file on disk to capture.File.
type localFile struct {
	path string
}

func (f localFile) Size() int64 {
	info, err := os.Stat(f.path)
	if err != nil {
		// Let Open report the real error.
		return 0
	}
	return info.Size()
}

func (f localFile) ContentType() string {
	switch strings.ToLower(filepath.Ext(f.path)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	}

	// Unknown extension: sniff the header.
	fh, err := os.Open(f.path)
	if err != nil {
		return "application/octet-stream"
	}
	defer fh.Close()
	head := make([]byte, 512)
	n, _ := io.ReadFull(fh, head)
	return http.DetectContentType(head[:n])
}

func (f localFile) Open() (io.ReadCloser, error) {
	return os.Open(f.path)
}
