package vaultsync

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"
)

// fakeRemoteStore is an in-memory RemoteStore used across the package's
// tests, playing the role of the "passive blob store" spec.md describes.
type fakeRemoteStore struct {
	mu sync.Mutex

	nextID       int
	files        map[string]RemoteFile // by ID
	downloadData map[string][]byte     // by ID

	uploadCalls   []string
	deleteCalls   []string
	downloadCalls []string

	uploadErr   error
	downloadErr error
	deleteErr   error
	listErr     error

	changes       []RemoteChange
	nextPageToken string
	startToken    string
}

func newFakeRemoteStore() *fakeRemoteStore {
	return &fakeRemoteStore{
		files:        make(map[string]RemoteFile),
		downloadData: make(map[string][]byte),
	}
}

func (f *fakeRemoteStore) ListFiles(_ context.Context, _ string) ([]RemoteFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.listErr != nil {
		return nil, f.listErr
	}

	out := make([]RemoteFile, 0, len(f.files))
	for _, rf := range f.files {
		out = append(out, rf)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })

	return out, nil
}

func (f *fakeRemoteStore) UploadFile(_ context.Context, path string, data []byte, mimeType string, appProps map[string]string) (UploadResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.uploadCalls = append(f.uploadCalls, path)

	if f.uploadErr != nil {
		return UploadResult{}, f.uploadErr
	}

	// Idempotence: an existing object at this path is revised in place
	// rather than duplicated (section 6: "repeated upload ... converge to
	// one object with a new revision id").
	for id, rf := range f.files {
		if rf.Path == path {
			f.nextID++
			rev := fmt.Sprintf("rev-%d", f.nextID)
			rf.HeadRevisionID = rev
			rf.Size = int64(len(data))
			rf.MimeType = mimeType
			rf.AppProperties = cloneProps(appProps)
			f.files[id] = rf
			f.downloadData[id] = append([]byte(nil), data...)

			return UploadResult{ID: id, HeadRevisionID: rev}, nil
		}
	}

	f.nextID++
	id := fmt.Sprintf("id-%d", f.nextID)
	rev := fmt.Sprintf("rev-%d", f.nextID)

	f.files[id] = RemoteFile{
		ID:             id,
		Path:           path,
		MimeType:       mimeType,
		Size:           int64(len(data)),
		ModifiedTime:   time.Now(),
		HeadRevisionID: rev,
		AppProperties:  cloneProps(appProps),
	}
	f.downloadData[id] = append([]byte(nil), data...)

	return UploadResult{ID: id, HeadRevisionID: rev}, nil
}

func (f *fakeRemoteStore) DownloadFile(_ context.Context, id string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.downloadCalls = append(f.downloadCalls, id)

	if f.downloadErr != nil {
		return nil, f.downloadErr
	}

	data, ok := f.downloadData[id]
	if !ok {
		return nil, fmt.Errorf("fakeRemoteStore: no such object %s", id)
	}

	return append([]byte(nil), data...), nil
}

func (f *fakeRemoteStore) DeleteFile(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.deleteCalls = append(f.deleteCalls, id)

	if f.deleteErr != nil {
		return f.deleteErr
	}

	delete(f.files, id)
	delete(f.downloadData, id)

	return nil
}

func (f *fakeRemoteStore) GetChanges(_ context.Context, _ string) ([]RemoteChange, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.changes, f.nextPageToken, nil
}

func (f *fakeRemoteStore) GetStartPageToken(_ context.Context) (string, error) {
	return f.startToken, nil
}

func (f *fakeRemoteStore) GetFileMetadata(_ context.Context, id string) (RemoteFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	rf, ok := f.files[id]
	if !ok {
		return RemoteFile{}, fmt.Errorf("fakeRemoteStore: no such object %s", id)
	}

	return rf, nil
}

// putRemote seeds a remote object directly, bypassing UploadFile, for tests
// that set up pre-existing remote state.
func (f *fakeRemoteStore) putRemote(rf RemoteFile, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.files[rf.ID] = rf
	f.downloadData[rf.ID] = data
}

func cloneProps(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}

	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}

	return out
}

// fakeVaultAdapter is an in-memory VaultAdapter.
type fakeVaultAdapter struct {
	mu      sync.Mutex
	files   map[string][]byte
	mtimes  map[string]time.Time
	folders map[string]bool
	trashed []string

	readErr  error
	writeErr error
	scanErr  error
}

func newFakeVaultAdapter() *fakeVaultAdapter {
	return &fakeVaultAdapter{
		files:   make(map[string][]byte),
		mtimes:  make(map[string]time.Time),
		folders: make(map[string]bool),
	}
}

func (v *fakeVaultAdapter) put(path string, data []byte, mtime time.Time) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.files[path] = data
	v.mtimes[path] = mtime
}

func (v *fakeVaultAdapter) ScanTree(_ context.Context, _ ScanFilters) ([]FileMetadata, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.scanErr != nil {
		return nil, v.scanErr
	}

	out := make([]FileMetadata, 0, len(v.files)+len(v.folders))

	for folder := range v.folders {
		out = append(out, FileMetadata{Path: folder, IsFolder: true})
	}

	for path, data := range v.files {
		out = append(out, FileMetadata{
			Path:      path,
			Mtime:     v.mtimes[path],
			Size:      int64(len(data)),
			Extension: extensionOf(path),
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })

	return out, nil
}

func (v *fakeVaultAdapter) ReadFile(_ context.Context, path string) ([]byte, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.readErr != nil {
		return nil, v.readErr
	}

	data, ok := v.files[path]
	if !ok {
		return nil, fmt.Errorf("fakeVaultAdapter: no such file %s", path)
	}

	return append([]byte(nil), data...), nil
}

func (v *fakeVaultAdapter) OpenFile(_ context.Context, path string) (io.ReadCloser, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.readErr != nil {
		return nil, v.readErr
	}

	data, ok := v.files[path]
	if !ok {
		return nil, fmt.Errorf("fakeVaultAdapter: no such file %s", path)
	}

	return io.NopCloser(bytes.NewReader(append([]byte(nil), data...))), nil
}

func (v *fakeVaultAdapter) WriteFile(_ context.Context, path string, data []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.writeErr != nil {
		return v.writeErr
	}

	v.files[path] = append([]byte(nil), data...)
	v.mtimes[path] = time.Now()

	return nil
}

func (v *fakeVaultAdapter) CreateFolder(_ context.Context, path string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.folders[path] = true

	return nil
}

func (v *fakeVaultAdapter) TrashFile(_ context.Context, path string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, ok := v.files[path]; !ok {
		return fmt.Errorf("fakeVaultAdapter: no such file %s", path)
	}

	delete(v.files, path)
	delete(v.mtimes, path)
	v.trashed = append(v.trashed, path)

	return nil
}

func (v *fakeVaultAdapter) Exists(_ context.Context, path string) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	_, ok := v.files[path]

	return ok, nil
}

func (v *fakeVaultAdapter) Stat(_ context.Context, path string) (FileMetadata, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	data, ok := v.files[path]
	if !ok {
		return FileMetadata{}, fmt.Errorf("fakeVaultAdapter: no such file %s", path)
	}

	return FileMetadata{Path: path, Mtime: v.mtimes[path], Size: int64(len(data)), Extension: extensionOf(path)}, nil
}
