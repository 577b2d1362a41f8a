package scanner

import (
	"context"
	"fmt"
	"image"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"comfygallery/logger"
	"comfygallery/metadata"

	_ "image/jpeg"
)

// Media extensions the gallery picks up. Metadata is only built for
// still images; videos and gifs carry empty metadata.
var (
	mediaExtensions = map[string]bool{
		".png": true, ".jpg": true, ".jpeg": true, ".webp": true,
		".mp4": true, ".gif": true, ".webm": true,
	}
	imageExtensions = map[string]bool{
		".png": true, ".jpg": true, ".jpeg": true, ".webp": true,
	}
)

// IsMediaFile reports whether path has a gallery media extension.
func IsMediaFile(path string) bool {
	return mediaExtensions[strings.ToLower(filepath.Ext(path))]
}

// FileDetails is one gallery entry as served to the widget. Metadata
// follows the engine's input contract exactly.
type FileDetails struct {
	Name      string             `json:"name"`
	URL       string             `json:"url"`
	Timestamp int64              `json:"timestamp"`
	Date      string             `json:"date"`
	Type      string             `json:"type"`
	Metadata  *metadata.Metadata `json:"metadata"`
}

// Tree is the folder/file payload returned by the images endpoint:
// folder key to filename to details.
type Tree struct {
	Folders map[string]map[string]*FileDetails `json:"folders"`
}

// MetadataCache lets a scan skip re-parsing files that have not
// changed since the last pass. Implemented by the sqlite store; nil
// disables caching.
type MetadataCache interface {
	Get(path string, mtime int64, size int64) (*metadata.Metadata, bool)
	Put(path string, mtime int64, size int64, meta *metadata.Metadata) error
}

// Scanner builds gallery trees from a media root directory.
type Scanner struct {
	root     string
	baseName string
	workers  int
	cache    MetadataCache

	// Progress, when set, is called once per processed file.
	Progress func(done, total int)
}

// New creates a Scanner over the given root. workers bounds concurrent
// metadata extraction; zero or negative means serial.
func New(root string, workers int, cache MetadataCache) *Scanner {
	if workers <= 0 {
		workers = 1
	}
	return &Scanner{
		root:     filepath.Clean(root),
		baseName: filepath.Base(filepath.Clean(root)),
		workers:  workers,
		cache:    cache,
	}
}

// Root returns the scanned directory.
func (s *Scanner) Root() string { return s.root }

// Workers returns the concurrency bound, for deriving scoped scanners.
func (s *Scanner) Workers() int { return s.workers }

type scanEntry struct {
	path    string
	relDir  string // directory relative to root, "" for the root itself
	name    string
	modTime time.Time
	size    int64
}

// Scan walks the root recursively, skipping hidden directories, and
// returns the populated tree. Per-file failures are logged and the
// file skipped; only the walk itself can fail the scan.
func (s *Scanner) Scan(ctx context.Context) (*Tree, error) {
	entries := make([]scanEntry, 0, 64)
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			logger.Warn("scan: cannot read entry", "path", path, "error", err)
			return nil
		}
		if d.IsDir() {
			if path != s.root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !IsMediaFile(path) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			logger.Warn("scan: cannot stat file", "path", path, "error", err)
			return nil
		}
		rel, err := filepath.Rel(s.root, filepath.Dir(path))
		if err != nil {
			return nil
		}
		if rel == "." {
			rel = ""
		}
		entries = append(entries, scanEntry{
			path:    path,
			relDir:  rel,
			name:    d.Name(),
			modTime: info.ModTime(),
			size:    info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", s.root, err)
	}

	// Stable output order keeps tree diffs meaningful.
	sort.Slice(entries, func(i, j int) bool { return entries[i].path < entries[j].path })

	tree := &Tree{Folders: make(map[string]map[string]*FileDetails)}
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	done := 0
	for _, entry := range entries {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			details := s.buildDetails(entry)
			folder := s.folderKey(entry.relDir)
			mu.Lock()
			if tree.Folders[folder] == nil {
				tree.Folders[folder] = make(map[string]*FileDetails)
			}
			tree.Folders[folder][entry.name] = details
			done++
			if s.Progress != nil {
				s.Progress(done, len(entries))
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return tree, nil
}

func (s *Scanner) folderKey(relDir string) string {
	if relDir == "" {
		return s.baseName
	}
	return filepath.ToSlash(filepath.Join(s.baseName, relDir))
}

func (s *Scanner) urlPath(entry scanEntry) string {
	if entry.relDir == "" {
		return "/static_gallery/" + entry.name
	}
	return "/static_gallery/" + filepath.ToSlash(filepath.Join(entry.relDir, entry.name))
}

func (s *Scanner) buildDetails(entry scanEntry) *FileDetails {
	fileType := "media"
	if imageExtensions[strings.ToLower(filepath.Ext(entry.name))] {
		fileType = "image"
	}
	details := &FileDetails{
		Name:      entry.name,
		URL:       s.urlPath(entry),
		Timestamp: entry.modTime.Unix(),
		Date:      entry.modTime.Format("2006-01-02 15:04:05"),
		Type:      fileType,
	}
	if fileType == "image" {
		details.Metadata = s.imageMetadata(entry)
	} else {
		details.Metadata = &metadata.Metadata{FileInfo: s.fileInfo(entry, "")}
	}
	return details
}

// imageMetadata builds the engine input blob for a still image,
// consulting the cache first.
func (s *Scanner) imageMetadata(entry scanEntry) *metadata.Metadata {
	if s.cache != nil {
		if meta, ok := s.cache.Get(entry.path, entry.modTime.Unix(), entry.size); ok {
			return meta
		}
	}

	meta := &metadata.Metadata{}
	resolution := ""
	if strings.EqualFold(filepath.Ext(entry.name), ".png") {
		f, err := os.Open(entry.path)
		if err == nil {
			info, perr := readPNGInfo(f)
			f.Close()
			if perr == nil {
				if info.Width > 0 {
					resolution = fmt.Sprintf("%dx%d", info.Width, info.Height)
				}
				if prompt, ok := info.TextChunks["prompt"]; ok {
					meta.Prompt = prompt
				}
				if workflow, ok := info.TextChunks["workflow"]; ok {
					meta.Workflow = workflow
				}
			} else {
				logger.Debug("scan: unreadable png metadata", "path", entry.path, "error", perr)
			}
		}
	} else {
		resolution = decodeResolution(entry.path)
	}
	meta.FileInfo = s.fileInfo(entry, resolution)

	if s.cache != nil {
		if err := s.cache.Put(entry.path, entry.modTime.Unix(), entry.size, meta); err != nil {
			logger.Debug("scan: cache write failed", "path", entry.path, "error", err)
		}
	}
	return meta
}

func (s *Scanner) fileInfo(entry scanEntry, resolution string) metadata.FileInfo {
	return metadata.FileInfo{
		Filename:   entry.name,
		Resolution: resolution,
		Size:       humanize.Bytes(uint64(entry.size)),
		Date:       entry.modTime.Format("2006-01-02 15:04:05"),
	}
}

// decodeResolution reads just enough of a non-PNG image to learn its
// dimensions. Unsupported formats yield "".
func decodeResolution(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%dx%d", cfg.Width, cfg.Height)
}
