package main

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

const (
	mergedSubDir = "_merged" // merge output under the archive root
	maxFileScan  = 100000
)

var pdfcpuInit sync.Once

// pdfConfig is a relaxed validation config that never touches the user's
// pdfcpu config directory.
func pdfConfig() *model.Configuration {
	pdfcpuInit.Do(pdfapi.DisableConfigDir)
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// verifyPDF parses and validates the file at path.
func verifyPDF(path string) error {
	if err := pdfapi.ValidateFile(path, pdfConfig()); err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptPDF, err)
	}
	return nil
}

// mergePDFs concatenates inputs into out, in order. A failed merge leaves
// no partial output behind.
func mergePDFs(inputs []string, out string) error {
	if err := pdfapi.MergeCreateFile(inputs, out, false, pdfConfig()); err != nil {
		_ = os.Remove(out)
		return fmt.Errorf("merge: %w", err)
	}
	return nil
}

// ArchiveFile is one PDF found under the archive root.
type ArchiveFile struct {
	Path string // absolute
	Rel  string // slash-separated, relative to root
	Size int64
	Mod  time.Time
}

// scanArchive lists archived PDFs, skipping merge output and partial
// downloads.
func scanArchive(root string) ([]ArchiveFile, error) {
	var files []ArchiveFile
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == mergedSubDir && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(strings.ToLower(d.Name()), ".pdf") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		rel, _ := filepath.Rel(root, path)
		files = append(files, ArchiveFile{
			Path: path,
			Rel:  filepath.ToSlash(rel),
			Size: info.Size(),
			Mod:  info.ModTime(),
		})
		if len(files) >= maxFileScan {
			return filepath.SkipAll
		}
		return nil
	})
	if os.IsNotExist(err) {
		return nil, nil
	}
	return files, err
}

// VerifyReport is the result of checking a whole archive.
type VerifyReport struct {
	Checked int
	Corrupt map[string]error // rel path -> reason
}

func verifyArchive(root string) (VerifyReport, error) {
	files, err := scanArchive(root)
	if err != nil {
		return VerifyReport{}, err
	}
	rep := VerifyReport{Corrupt: map[string]error{}}
	for _, f := range files {
		rep.Checked++
		if err := verifyPDF(f.Path); err != nil {
			rep.Corrupt[f.Rel] = err
		}
	}
	return rep, nil
}
