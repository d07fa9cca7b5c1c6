package backend

import "syscall"

// DiskStats describes the filesystem backing a store path.
type DiskStats struct {
	TotalBytes uint64
	UsedBytes  uint64
}

// StatFS reports capacity and usage of the filesystem containing path.
// Eviction watermarks apply to these numbers when no explicit cache
// capacity is configured: the disk is shared, so percent-full is
// measured against the whole filesystem.
func StatFS(path string) (DiskStats, error) {
	fs := syscall.Statfs_t{}
	if err := syscall.Statfs(path, &fs); err != nil {
		return DiskStats{}, err
	}
	total := fs.Blocks * uint64(fs.Bsize)
	return DiskStats{
		TotalBytes: total,
		UsedBytes:  total - (uint64(fs.Bavail) * uint64(fs.Bsize)),
	}, nil
}

// DiskStats reports the stats of the filesystem backing the store root.
func (l *FSStore) DiskStats() (DiskStats, error) {
	return StatFS(l.root)
}
