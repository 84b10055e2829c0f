package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

func TestLocal_PutGetExists(t *testing.T) {
	l, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	key := CallKey("call-1", "transcript.json")
	if ok, _ := l.Exists(ctx, key); ok {
		t.Fatal("fresh store must be empty")
	}
	if err := l.Put(ctx, key, "application/json", []byte(`{"a":1}`)); err != nil {
		t.Fatal(err)
	}
	if err := l.Put(ctx, key, "application/json", []byte(`{}`)); err != nil {
		t.Fatal(err)
	}
	got, err := l.Get(ctx, key)
	if err != nil || string(got) != `{}` {
		t.Fatalf("get = %q, %v", got, err)
	}
	if ok, err := l.Exists(ctx, key); !ok || err != nil {
		t.Fatalf("exists = %v, %v", ok, err)
	}
	entries, _ := os.ReadDir(filepath.Join(l.Root(), "call-1"))
	if len(entries) != 1 {
		t.Fatalf("temp files left behind: %v", entries)
	}
	if _, err := l.Get(ctx, "nope"); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("missing key err = %v", err)
	}
}

type apiError struct{ code string }

func (e *apiError) Error() string                 { return e.code }
func (e *apiError) ErrorCode() string             { return e.code }
func (e *apiError) ErrorMessage() string          { return e.code }
func (e *apiError) ErrorFault() smithy.ErrorFault { return smithy.FaultClient }

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	putErr  error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, types: map[string]string{}}
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[*in.Key]
	if !ok {
		return nil, &apiError{code: "NoSuchKey"}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[*in.Key] = data
	if in.ContentType != nil {
		f.types[*in.Key] = *in.ContentType
	}
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[*in.Key]; !ok {
		return nil, &apiError{code: "NotFound"}
	}
	return &s3.HeadObjectOutput{}, nil
}

func TestS3Store(t *testing.T) {
	fake := newFakeS3()
	st := NewS3(fake, "bucket", "runs/2026")
	ctx := context.Background()

	if err := st.Put(ctx, "c1/combined.wav", "audio/wav", []byte("RIFF")); err != nil {
		t.Fatal(err)
	}
	if fake.types["runs/2026/c1/combined.wav"] != "audio/wav" {
		t.Fatalf("objects = %v types = %v", fake.objects, fake.types)
	}
	got, err := st.Get(ctx, "c1/combined.wav")
	if err != nil || string(got) != "RIFF" {
		t.Fatalf("get = %q, %v", got, err)
	}
	if _, err := st.Get(ctx, "c1/missing"); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("missing err = %v", err)
	}
	if ok, err := st.Exists(ctx, "c1/missing"); ok || err != nil {
		t.Fatalf("exists = %v, %v", ok, err)
	}
	fake.putErr = errors.New("denied")
	if err := st.Put(ctx, "x", "", nil); err == nil {
		t.Fatal("expected put error")
	}
}

func TestNewS3Client_Endpoint(t *testing.T) {
	c := NewS3Client(S3Config{Region: "us-east-1", Endpoint: "http://localhost:9000", AccessKey: "k", SecretKey: "s"})
	o := c.Options()
	if o.BaseEndpoint == nil || *o.BaseEndpoint != "http://localhost:9000" || !o.UsePathStyle {
		t.Fatalf("options = %+v", o)
	}
	creds, err := o.Credentials.Retrieve(context.Background())
	if err != nil || creds.AccessKeyID != "k" {
		t.Fatalf("creds = %+v, %v", creds, err)
	}
}

type fakeUploader struct {
	keys []string
	err  error
}

func (f *fakeUploader) Upload(_ context.Context, key, _ string, _ []byte) error {
	f.keys = append(f.keys, key)
	return f.err
}

func TestMirrored_IgnoresMirrorFailures(t *testing.T) {
	l, _ := NewLocal(t.TempDir())
	ok, bad := &fakeUploader{}, &fakeUploader{err: errors.New("offline")}
	m := NewMirrored(l, nil, ok, bad)
	if err := m.Put(context.Background(), "c/issues.json", "application/json", []byte("[]")); err != nil {
		t.Fatalf("mirror failure leaked: %v", err)
	}
	if len(ok.keys) != 1 || len(bad.keys) != 1 {
		t.Fatalf("mirrors not called: %v %v", ok.keys, bad.keys)
	}
	if got, _ := m.Get(context.Background(), "c/issues.json"); string(got) != "[]" {
		t.Fatalf("primary not written: %q", got)
	}
}

func TestSupabaseMirror_RequiresConfig(t *testing.T) {
	if _, err := NewSupabaseMirror(SupabaseConfig{}); err == nil {
		t.Fatal("expected configuration error")
	}
}
