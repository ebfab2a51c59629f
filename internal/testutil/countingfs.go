package testutil

import (
	"sync"

	"github.com/spf13/afero"
	"go.uber.org/multierr"
)

// CountingFs is an afero.Fs that tracks how many regular files opened through it are open at
// once. Directory opens, such as those made by afero.Walk, are not counted.
type CountingFs struct {
	afero.Fs

	lk    sync.Mutex
	open  int
	peak  int
	total int
}

func NewCountingFs(fs afero.Fs) *CountingFs {
	return &CountingFs{Fs: fs}
}

func (c *CountingFs) Open(name string) (afero.File, error) {
	f, err := c.Fs.Open(name)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		return nil, multierr.Append(err, f.Close())
	}
	if info.IsDir() {
		return f, nil
	}
	c.lk.Lock()
	c.open++
	c.total++
	if c.open > c.peak {
		c.peak = c.open
	}
	c.lk.Unlock()
	return &countedFile{File: f, fs: c}, nil
}

// Peak is the highest number of files that were open simultaneously
func (c *CountingFs) Peak() int {
	c.lk.Lock()
	defer c.lk.Unlock()
	return c.peak
}

// OpenFiles is the number of files currently open
func (c *CountingFs) OpenFiles() int {
	c.lk.Lock()
	defer c.lk.Unlock()
	return c.open
}

// Total is the number of successful opens of regular files
func (c *CountingFs) Total() int {
	c.lk.Lock()
	defer c.lk.Unlock()
	return c.total
}

type countedFile struct {
	afero.File
	fs     *CountingFs
	closed bool
}

func (f *countedFile) Close() error {
	if !f.closed {
		f.closed = true
		f.fs.lk.Lock()
		f.fs.open--
		f.fs.lk.Unlock()
	}
	return f.File.Close()
}
