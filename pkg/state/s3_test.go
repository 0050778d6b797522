package state

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	meta    map[string]map[string]string
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte), meta: make(map[string]map[string]string)}
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{
		Body:     io.NopCloser(bytes.NewReader(data)),
		Metadata: f.meta[aws.ToString(in.Key)],
	}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = data
	f.meta[aws.ToString(in.Key)] = in.Metadata
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3Backend(t *testing.T) {
	fake := newFakeS3()
	b := NewS3Backend(fake, "bucket", "users/")
	ctx := context.Background()

	if err := b.Save(ctx, "u1", []byte(`{"a":1}`), time.Time{}); err != nil {
		t.Fatal(err)
	}
	if _, ok := fake.objects["users/u1.json"]; !ok {
		t.Fatalf("object keys = %v, want users/u1.json", fake.objects)
	}
	got, err := b.Load(ctx, "u1")
	if err != nil || string(got) != `{"a":1}` {
		t.Errorf("Load = %s, %v", got, err)
	}

	if got, err := b.Load(ctx, "missing"); got != nil || err != nil {
		t.Errorf("Load(missing) = %s, %v; want nil, nil", got, err)
	}

	_ = b.Save(ctx, "old", []byte("x"), time.Now().Add(-time.Minute))
	if got, _ := b.Load(ctx, "old"); got != nil {
		t.Error("expired object should not load")
	}

	if err := b.Delete(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	if got, _ := b.Load(ctx, "u1"); got != nil {
		t.Error("deleted object still loads")
	}
}

func TestS3BackendBacksStore(t *testing.T) {
	b := NewS3Backend(newFakeS3(), "bucket", "")
	ctx := context.Background()

	s, err := Open(ctx, b, "u1", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	_ = s.Set("plan", "pro")
	if err := s.Commit(ctx); err != nil {
		t.Fatal(err)
	}
	again, err := Open(ctx, b, "u1", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := again.Value("plan"); v != "pro" {
		t.Errorf("plan = %v, want pro", v)
	}
}
