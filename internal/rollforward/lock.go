package rollforward

import (
	"os"
	"syscall"
)

// DirectoryLock chmods a directory to 0600 and chowns it to root:root for
// the duration of a roll-forward, restoring the original mode/owner
// unconditionally on unlock. This prevents racing writers while the
// orchestrator is mutating the dataset mount.
type DirectoryLock struct {
	path        string
	origMode    os.FileMode
	origUID     int
	origGID     int
	locked      bool
}

// NewDirectoryLock inspects path's current attributes without locking it.
func NewDirectoryLock(path string) (*DirectoryLock, error) {
	fi, err := os.Lstat(path)
	if err != nil {
		return nil, err
	}
	l := &DirectoryLock{path: path, origMode: fi.Mode().Perm()}
	if sys, ok := fi.Sys().(*syscall.Stat_t); ok {
		l.origUID = int(sys.Uid)
		l.origGID = int(sys.Gid)
	}
	return l, nil
}

// Lock chmods the directory 0600 and chowns it root:root.
func (l *DirectoryLock) Lock() error {
	if err := os.Chmod(l.path, 0o600); err != nil {
		return err
	}
	l.locked = true
	return os.Chown(l.path, 0, 0)
}

// Unlock restores the original mode and ownership, regardless of whether
// Lock succeeded partway.
func (l *DirectoryLock) Unlock() error {
	if !l.locked {
		return nil
	}
	if err := os.Chown(l.path, l.origUID, l.origGID); err != nil {
		return err
	}
	if err := os.Chmod(l.path, l.origMode); err != nil {
		return err
	}
	l.locked = false
	return nil
}

// WrapFunction runs fn with the lock held, always unlocking afterward even
// if fn panics or returns an error.
func (l *DirectoryLock) WrapFunction(fn func() error) (err error) {
	if err := l.Lock(); err != nil {
		_ = l.Unlock()
		return err
	}
	defer func() {
		if uerr := l.Unlock(); uerr != nil && err == nil {
			err = uerr
		}
	}()
	return fn()
}
