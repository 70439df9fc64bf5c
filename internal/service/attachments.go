package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/greeddj/mailbridge-go/internal/apperr"
	"github.com/greeddj/mailbridge-go/internal/features"
	"github.com/greeddj/mailbridge-go/internal/model"
)

// SavedAttachment is one file written by SaveAttachments.
type SavedAttachment struct {
	model.Attachment
	Path string
}

// Attachments fetches the attachments of a listed message, contents included.
func (s *Service) Attachments(ctx context.Context, ordinal int) ([]model.AttachmentContent, error) {
	if err := s.allow(features.GetAttachments); err != nil {
		return nil, err
	}
	entry, err := s.cache.Resolve(model.KindMessage, ordinal)
	if err != nil {
		return nil, err
	}

	log, started := s.begin("attachments", model.KindMessage)
	files, err := s.gw.Attachments(ctx, entry.Ref)
	if apperr.IsCode(err, apperr.CodeNotFound) {
		s.cache.Invalidate(model.KindMessage, ordinal)
	}
	done(log, started, err, "ordinal", ordinal, "files", len(files))
	return files, err
}

// SaveAttachments writes the attachments of a listed message into dir, which must
// exist. Names are reduced to their base and never overwrite an existing file.
func (s *Service) SaveAttachments(ctx context.Context, ordinal int, dir string) ([]SavedAttachment, error) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, apperr.InvalidArgument("%s is not a directory", dir)
	}
	files, err := s.Attachments(ctx, ordinal)
	if err != nil {
		return nil, err
	}

	saved := make([]SavedAttachment, 0, len(files))
	for i, f := range files {
		path, err := freePath(dir, safeName(f.Name, i))
		if err != nil {
			return saved, err
		}
		if err := os.WriteFile(path, f.Data, 0o600); err != nil {
			return saved, fmt.Errorf("saving %s: %w", f.Name, err)
		}
		saved = append(saved, SavedAttachment{Attachment: f.Attachment, Path: path})
	}
	s.log.Info("attachments saved", "ordinal", ordinal, "files", len(saved), "dir", dir)
	return saved, nil
}

// safeName keeps the base of name without separators or leading dots.
func safeName(name string, index int) string {
	name = strings.ReplaceAll(name, `\`, "/")
	name = strings.TrimLeft(filepath.Base(name), ".")
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f || strings.ContainsRune(`/:*?"<>|`, r) {
			return '_'
		}
		return r
	}, name)
	if strings.TrimSpace(name) == "" {
		return fmt.Sprintf("attachment-%d", index+1)
	}
	return name
}

// freePath returns dir/name, or dir/stem_N.ext for the first N that is not taken.
func freePath(dir, name string) (string, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	path := filepath.Join(dir, name)
	for n := 1; ; n++ {
		_, err := os.Lstat(path)
		if errors.Is(err, fs.ErrNotExist) {
			return path, nil
		}
		if err != nil {
			return "", fmt.Errorf("checking %s: %w", path, err)
		}
		path = filepath.Join(dir, fmt.Sprintf("%s_%d%s", stem, n, ext))
	}
}
