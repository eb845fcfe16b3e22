package omnimap

import (
	"bufio"
	"os"

	"github.com/daviddengcn/go-villa"
)

// FileSystem is the backing store for temporary run files.
type FileSystem interface {
	Create(fn string) (WriteCloser, error)
	Open(fn string) (ReadCloser, error)
	Mkdir(path string, perm os.FileMode) error
	Remove(fn string) error
}

// BufferedFileWriter is a buffered WriteCloser over an os.File. Close
// flushes the buffer before closing the file.
type BufferedFileWriter struct {
	file *os.File
	*bufio.Writer
}

func (b BufferedFileWriter) Close() error {
	if err := b.Flush(); err != nil {
		return err
	}
	return b.file.Close()
}

// BufferedFileReader is a buffered ReadCloser over an os.File.
type BufferedFileReader struct {
	file *os.File
	*bufio.Reader
}

func (b BufferedFileReader) Close() error {
	return b.file.Close()
}

type localFileSystem struct{}

// LocalFS is a FileSystem backed by the local disk.
var LocalFS FileSystem = localFileSystem{}

func (lfs localFileSystem) Create(fn string) (WriteCloser, error) {
	file, err := villa.Path(fn).Create()
	if err != nil {
		return nil, err
	}
	return BufferedFileWriter{
		file:   file,
		Writer: bufio.NewWriter(file),
	}, nil
}

func (lfs localFileSystem) Open(fn string) (ReadCloser, error) {
	file, err := villa.Path(fn).Open()
	if err != nil {
		return nil, err
	}
	return BufferedFileReader{
		file:   file,
		Reader: bufio.NewReader(file),
	}, nil
}

func (lfs localFileSystem) Mkdir(path string, perm os.FileMode) error {
	return villa.Path(path).MkdirAll(perm)
}

func (lfs localFileSystem) Remove(fn string) error {
	return villa.Path(fn).RemoveAll()
}

// FsPath is a path on a specific FileSystem.
type FsPath struct {
	Fs   FileSystem
	Path string
}

// LocalFsPath returns an FsPath on LocalFS.
func LocalFsPath(path string) FsPath {
	return FsPath{
		Fs:   LocalFS,
		Path: path,
	}
}

func (fp FsPath) Create() (WriteCloser, error) {
	return fp.Fs.Create(fp.Path)
}

func (fp FsPath) Open() (ReadCloser, error) {
	return fp.Fs.Open(fp.Path)
}

func (fp FsPath) Mkdir(perm os.FileMode) error {
	return fp.Fs.Mkdir(fp.Path, perm)
}

func (fp FsPath) Remove() error {
	return fp.Fs.Remove(fp.Path)
}

func (fp FsPath) Join(sub string) FsPath {
	return FsPath{
		Fs:   fp.Fs,
		Path: string(villa.Path(fp.Path).Join(sub)),
	}
}
