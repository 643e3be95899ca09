package s3fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// fakeS3 serves ListObjectsV2 and GetObject from memory. Listings are split
// into pages of pageSize keys.
type fakeS3 struct {
	mu       sync.Mutex
	objects  map[string][]byte
	pageSize int
	getErr   map[string]error
	gets     int
}

func newFakeS3(objects map[string]string) *fakeS3 {
	f := &fakeS3{objects: make(map[string][]byte), pageSize: 2, getErr: make(map[string]error)}
	for k, v := range objects {
		f.objects["bucket/"+k] = []byte(v)
	}
	return f
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	bucket := aws.ToString(in.Bucket)
	prefix := aws.ToString(in.Prefix)
	var keys []string
	for full := range f.objects {
		b, key, _ := strings.Cut(full, "/")
		if b == bucket && strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	start := 0
	if tok := aws.ToString(in.ContinuationToken); tok != "" {
		fmt.Sscanf(tok, "%d", &start)
	}
	end := min(start+f.pageSize, len(keys))

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(end < len(keys))}
	for _, k := range keys[start:end] {
		out.Contents = append(out.Contents, types.Object{
			Key:  aws.String(k),
			Size: aws.Int64(int64(len(f.objects[bucket+"/"+k]))),
		})
	}
	if end < len(keys) {
		out.NextContinuationToken = aws.String(fmt.Sprint(end))
	}
	return out, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++

	key := aws.ToString(in.Key)
	if err := f.getErr[key]; err != nil {
		return nil, err
	}
	data, ok := f.objects[aws.ToString(in.Bucket)+"/"+key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	n := int64(len(data))
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: aws.Int64(n),
		ContentRange:  aws.String(fmt.Sprintf("bytes 0-%d/%d", n-1, n)),
	}, nil
}

func TestParseS3URI(t *testing.T) {
	tests := []struct {
		uri        string
		wantBucket string
		wantKey    string
		wantErr    bool
	}{
		{uri: "s3://enrollment/dumps/2012", wantBucket: "enrollment", wantKey: "dumps/2012"},
		{uri: "s3://bucket/key", wantBucket: "bucket", wantKey: "key"},
		{uri: "s3://bucket-only/", wantBucket: "bucket-only"},
		{uri: "s3://bucket", wantBucket: "bucket"},
		{uri: "https://bucket/key", wantErr: true},
		{uri: "./data", wantErr: true},
		{uri: "s3://", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			bucket, key, err := ParseS3URI(tt.uri)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if bucket != tt.wantBucket || key != tt.wantKey {
				t.Errorf("got %q/%q, want %q/%q", bucket, key, tt.wantBucket, tt.wantKey)
			}
		})
	}
}

func TestIsS3URI(t *testing.T) {
	if !IsS3URI("s3://b/p") {
		t.Error("s3 URI not recognized")
	}
	if IsS3URI("/data/s3://x") || IsS3URI("data") {
		t.Error("local path recognized as S3")
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"a-20120315.csv", "a-20120315.csv"},
		{"dumps/2012/a-20120315.csv.gz", "a-20120315.csv.gz"},
	}
	for _, tt := range tests {
		if got := sanitizeFilename(tt.input); got != tt.want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestListCSVKeys(t *testing.T) {
	api := newFakeS3(map[string]string{
		"dumps/a-20120315.csv":        "a",
		"dumps/b-20120316.CSV":        "bb",
		"dumps/c-20120317.csv.gz":     "ccc",
		"dumps/readme.txt":            "x",
		"dumps/nested/d-20120318.csv": "d",
		"other/e-20120319.csv":        "e",
	})
	c := NewClientWithAPI(api)

	objects, err := c.ListCSVKeys(context.Background(), "bucket", "dumps")
	if err != nil {
		t.Fatalf("ListCSVKeys: %v", err)
	}

	var keys []string
	for _, o := range objects {
		keys = append(keys, o.Key)
	}
	want := []string{"dumps/a-20120315.csv", "dumps/b-20120316.CSV", "dumps/c-20120317.csv.gz"}
	if fmt.Sprint(keys) != fmt.Sprint(want) {
		t.Errorf("keys = %v, want %v", keys, want)
	}
	if objects[2].Size != 3 {
		t.Errorf("size = %d, want 3", objects[2].Size)
	}
}

func TestFetcherStagesFiles(t *testing.T) {
	api := newFakeS3(map[string]string{
		"dumps/a-20120315.csv": "header\nrow1\n",
		"dumps/b-20120316.csv": "header\nrow1\nrow2\n",
		"dumps/notes.md":       "skip",
	})
	stageDir := filepath.Join(t.TempDir(), "stage")

	f := NewFetcher(NewClientWithAPI(api), FetchConfig{URI: "s3://bucket/dumps/", DownloadDir: stageDir, Concurrency: 2})
	res, err := f.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	if res.Dir != stageDir {
		t.Errorf("Dir = %s, want %s", res.Dir, stageDir)
	}
	if len(res.LocalFiles) != 2 {
		t.Fatalf("LocalFiles = %v", res.LocalFiles)
	}
	got, err := os.ReadFile(filepath.Join(stageDir, "b-20120316.csv"))
	if err != nil {
		t.Fatalf("read staged file: %v", err)
	}
	if string(got) != "header\nrow1\nrow2\n" {
		t.Errorf("staged content = %q", got)
	}
	if res.Bytes != int64(len("header\nrow1\n")+len("header\nrow1\nrow2\n")) {
		t.Errorf("Bytes = %d", res.Bytes)
	}
	if api.gets != 2 {
		t.Errorf("GetObject calls = %d, want 2", api.gets)
	}

	if err := f.Cleanup(); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if _, err := os.Stat(stageDir); !os.IsNotExist(err) {
		t.Error("staging dir should be removed")
	}
}

func TestFetcherCleanupKeepsExistingDir(t *testing.T) {
	api := newFakeS3(map[string]string{
		"dumps/a-20120315.csv": "header\nrow1\n",
	})
	stageDir := t.TempDir()
	unrelated := filepath.Join(stageDir, "notes.txt")
	if err := os.WriteFile(unrelated, []byte("keep me"), 0o644); err != nil {
		t.Fatal(err)
	}

	f := NewFetcher(NewClientWithAPI(api), FetchConfig{URI: "s3://bucket/dumps", DownloadDir: stageDir})
	if _, err := f.Fetch(context.Background()); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if err := f.Cleanup(); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}

	if _, err := os.Stat(unrelated); err != nil {
		t.Errorf("unrelated file removed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(stageDir, "a-20120315.csv")); !os.IsNotExist(err) {
		t.Error("staged file should be removed")
	}
}

func TestFetcherKeepFiles(t *testing.T) {
	api := newFakeS3(map[string]string{"a-20120315.csv": "header\n"})

	f := NewFetcher(NewClientWithAPI(api), FetchConfig{URI: "s3://bucket", KeepFiles: true})
	res, err := f.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	defer os.RemoveAll(res.Dir)

	if err := f.Cleanup(); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if _, err := os.Stat(filepath.Join(res.Dir, "a-20120315.csv")); err != nil {
		t.Errorf("staged file removed despite KeepFiles: %v", err)
	}
}

func TestFetcherDownloadError(t *testing.T) {
	api := newFakeS3(map[string]string{
		"dumps/a-20120315.csv": "header\n",
		"dumps/b-20120316.csv": "header\n",
	})
	boom := errors.New("access denied")
	api.getErr["dumps/b-20120316.csv"] = boom
	stageDir := t.TempDir()

	f := NewFetcher(NewClientWithAPI(api), FetchConfig{URI: "s3://bucket/dumps", DownloadDir: stageDir})
	if _, err := f.Fetch(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want access denied", err)
	}
	if _, err := os.Stat(filepath.Join(stageDir, "b-20120316.csv")); !os.IsNotExist(err) {
		t.Error("failed download left a file behind")
	}
}

func TestFetcherInvalidURI(t *testing.T) {
	f := NewFetcher(NewClientWithAPI(newFakeS3(nil)), FetchConfig{URI: "./data"})
	if _, err := f.Fetch(context.Background()); err == nil {
		t.Error("expected error for non-S3 URI")
	}
}

func TestDefaultDownloaderConfig(t *testing.T) {
	cfg := DefaultDownloaderConfig()
	if cfg.Concurrency < 2 || cfg.Concurrency > 8 {
		t.Errorf("Concurrency = %d, want within [2, 8]", cfg.Concurrency)
	}
	if cfg.PartSize != 8*1024*1024 {
		t.Errorf("PartSize = %d, want 8MB", cfg.PartSize)
	}

	d := NewDownloader(newFakeS3(nil), DownloaderConfig{})
	if d.Config() != cfg {
		t.Errorf("zero config not defaulted: %+v", d.Config())
	}
}
