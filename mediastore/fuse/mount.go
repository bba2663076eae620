// Copyright 2026 The Clawline Authors
// SPDX-License-Identifier: Apache-2.0

package fuse

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/clawline/clawline/mediastore"
)

// DefaultRecentEntries is the number of attachments listed under
// recent/ when Options.RecentEntries is zero.
const DefaultRecentEntries = 128

// Options configures the FUSE mount.
type Options struct {
	// Mountpoint is the directory where the filesystem is mounted.
	Mountpoint string

	// Store provides attachment content and metadata.
	Store *mediastore.Store

	// RecentEntries caps the recent/ listing. Zero uses
	// DefaultRecentEntries.
	RecentEntries int

	// AllowOther permits other users (including root) to access the
	// mount. Requires user_allow_other in /etc/fuse.conf.
	AllowOther bool

	// Logger receives diagnostic messages. If nil, errors go to a
	// stderr logger.
	Logger *slog.Logger
}

// Mount mounts the media browse filesystem at the configured
// mountpoint. The caller must call Unmount on the returned Server when
// done. The mountpoint directory is created if it does not exist.
func Mount(options Options) (*fuse.Server, error) {
	if options.Mountpoint == "" {
		return nil, fmt.Errorf("mountpoint is required")
	}
	if options.Store == nil {
		return nil, fmt.Errorf("store is required")
	}

	if options.RecentEntries == 0 {
		options.RecentEntries = DefaultRecentEntries
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))
	}

	if err := os.MkdirAll(options.Mountpoint, 0o755); err != nil {
		return nil, fmt.Errorf("creating mountpoint %s: %w", options.Mountpoint, err)
	}

	root := &rootNode{options: &options}

	entryTimeout := 1 * time.Second
	attrTimeout := 1 * time.Second
	negativeTimeout := 100 * time.Millisecond

	server, err := gofuse.Mount(options.Mountpoint, root, &gofuse.Options{
		EntryTimeout:    &entryTimeout,
		AttrTimeout:     &attrTimeout,
		NegativeTimeout: &negativeTimeout,
		MountOptions: fuse.MountOptions{
			FsName:     "clawline-media",
			Name:       "clawline",
			AllowOther: options.AllowOther,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("mounting FUSE filesystem at %s: %w", options.Mountpoint, err)
	}

	options.Logger.Info("media FUSE filesystem mounted", "mountpoint", options.Mountpoint)
	return server, nil
}

// rootNode is the filesystem root. It has two children: "recent" and
// "cas".
type rootNode struct {
	gofuse.Inode
	options *Options
}

var _ gofuse.InodeEmbedder = (*rootNode)(nil)
var _ gofuse.NodeOnAdder = (*rootNode)(nil)

func (r *rootNode) OnAdd(ctx context.Context) {
	recentDir := r.NewPersistentInode(ctx, &recentNode{options: r.options}, gofuse.StableAttr{Mode: syscall.S_IFDIR})
	r.AddChild("recent", recentDir, true)

	casDir := r.NewPersistentInode(ctx, &casNode{options: r.options}, gofuse.StableAttr{Mode: syscall.S_IFDIR})
	r.AddChild("cas", casDir, true)
}

// recentNode is the "recent/" directory: the newest attachments with
// display-friendly names.
type recentNode struct {
	gofuse.Inode
	options *Options
}

var _ gofuse.InodeEmbedder = (*recentNode)(nil)
var _ gofuse.NodeLookuper = (*recentNode)(nil)
var _ gofuse.NodeReaddirer = (*recentNode)(nil)

func (r *recentNode) Readdir(ctx context.Context) (gofuse.DirStream, syscall.Errno) {
	metas, err := r.options.Store.List()
	if err != nil {
		r.options.Logger.Error("listing media for recent directory", "error", err)
		return nil, syscall.EIO
	}
	if len(metas) > r.options.RecentEntries {
		metas = metas[:r.options.RecentEntries]
	}

	entries := make([]fuse.DirEntry, 0, len(metas))
	for _, meta := range metas {
		entries = append(entries, fuse.DirEntry{
			Name: entryName(meta),
			Mode: syscall.S_IFREG,
		})
	}
	return &sliceDirStream{entries: entries}, 0
}

func (r *recentNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	// Entry names are short refs plus an extension; strip back to the
	// short form and resolve it against the listing.
	short := name
	if dot := strings.IndexByte(short, '.'); dot >= 0 {
		short = short[:dot]
	}
	if !strings.HasPrefix(short, "med-") {
		return nil, syscall.ENOENT
	}

	metas, err := r.options.Store.List()
	if err != nil {
		r.options.Logger.Error("listing media for recent lookup", "error", err)
		return nil, syscall.EIO
	}
	for _, meta := range metas {
		if meta.Ref.Short() == short {
			return makeMediaInode(ctx, &r.Inode, r.options, meta, out)
		}
	}
	return nil, syscall.ENOENT
}

// casNode is the "cas/" directory. It supports lookup by full hex ref
// but does not support directory listing.
type casNode struct {
	gofuse.Inode
	options *Options
}

var _ gofuse.InodeEmbedder = (*casNode)(nil)
var _ gofuse.NodeLookuper = (*casNode)(nil)

func (c *casNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	ref, err := mediastore.ParseRef(name)
	if err != nil {
		return nil, syscall.ENOENT
	}

	meta, err := c.options.Store.Stat(ref)
	if err != nil {
		if mediastore.IsNotFound(err) {
			return nil, syscall.ENOENT
		}
		c.options.Logger.Error("stat failed for CAS lookup",
			"ref", name,
			"error", err,
		)
		return nil, syscall.EIO
	}

	return makeMediaInode(ctx, &c.Inode, c.options, meta, out)
}

// makeMediaInode builds a file inode for an attachment and fills the
// lookup entry.
func makeMediaInode(ctx context.Context, parent *gofuse.Inode, options *Options, meta *mediastore.Meta, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	node := &mediaFileNode{
		options: options,
		meta:    meta,
	}
	child := parent.NewPersistentInode(ctx, node, gofuse.StableAttr{Mode: syscall.S_IFREG})
	out.Mode = syscall.S_IFREG | 0o444
	out.Size = uint64(meta.Size)
	return child, 0
}

// mediaFileNode represents one attachment as a regular read-only file.
// The blob is decrypted once on first access and held for the node's
// lifetime.
type mediaFileNode struct {
	gofuse.Inode
	options *Options
	meta    *mediastore.Meta

	// mu protects data (lazy decrypt).
	mu   sync.Mutex
	data []byte
}

var _ gofuse.InodeEmbedder = (*mediaFileNode)(nil)
var _ gofuse.NodeGetattrer = (*mediaFileNode)(nil)
var _ gofuse.NodeOpener = (*mediaFileNode)(nil)
var _ gofuse.NodeReader = (*mediaFileNode)(nil)

func (m *mediaFileNode) Getattr(ctx context.Context, f gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = syscall.S_IFREG | 0o444
	out.Size = uint64(m.meta.Size)
	out.Blocks = (out.Size + 511) / 512
	created := m.meta.CreatedAt
	out.SetTimes(nil, &created, &created)
	return 0
}

func (m *mediaFileNode) Open(ctx context.Context, flags uint32) (gofuse.FileHandle, uint32, syscall.Errno) {
	// Reject anything that isn't a read.
	if flags&(syscall.O_WRONLY|syscall.O_RDWR) != 0 {
		return nil, 0, syscall.EROFS
	}

	if err := m.ensureLoaded(); err != nil {
		m.options.Logger.Error("loading media for read",
			"ref", m.meta.Ref.Short(),
			"error", err,
		)
		return nil, 0, syscall.EIO
	}

	// Content is immutable, so the kernel page cache is always valid.
	return nil, fuse.FOPEN_KEEP_CACHE, 0
}

func (m *mediaFileNode) Read(ctx context.Context, f gofuse.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	if err := m.ensureLoaded(); err != nil {
		return nil, syscall.EIO
	}

	if off >= int64(len(m.data)) {
		return fuse.ReadResultData(nil), 0
	}
	end := off + int64(len(dest))
	if end > int64(len(m.data)) {
		end = int64(len(m.data))
	}
	return fuse.ReadResultData(m.data[off:end]), 0
}

func (m *mediaFileNode) ensureLoaded() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.data != nil {
		return nil
	}

	data, _, err := m.options.Store.Get(m.meta.Ref)
	if err != nil {
		return err
	}
	m.data = data
	return nil
}

// entryName builds the recent/ filename for an attachment: the short
// ref plus a MIME-derived extension so viewers open the file directly.
func entryName(meta *mediastore.Meta) string {
	return meta.Ref.Short() + extensionFor(meta.MIMEType)
}

// extensionFor maps a MIME type to a filename extension. Returns ""
// when the type is unknown. mime.ExtensionsByType orders results
// alphabetically, which picks stable but occasionally quirky answers
// (image/jpeg yields .jpe); prefer common ones explicitly.
func extensionFor(mimeType string) string {
	switch mimeType {
	case "image/jpeg":
		return ".jpg"
	case "text/plain":
		return ".txt"
	case "text/markdown":
		return ".md"
	}
	extensions, err := mime.ExtensionsByType(mimeType)
	if err != nil || len(extensions) == 0 {
		return ""
	}
	return extensions[0]
}

// sliceDirStream implements fs.DirStream from a slice of entries.
type sliceDirStream struct {
	entries []fuse.DirEntry
	index   int
}

func (s *sliceDirStream) HasNext() bool {
	return s.index < len(s.entries)
}

func (s *sliceDirStream) Next() (fuse.DirEntry, syscall.Errno) {
	if s.index >= len(s.entries) {
		return fuse.DirEntry{}, syscall.EINVAL
	}
	entry := s.entries[s.index]
	s.index++
	return entry, 0
}

func (s *sliceDirStream) Close() {}
