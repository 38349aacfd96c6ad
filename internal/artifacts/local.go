package artifacts

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/johannesboyne/gofakes3"
	"github.com/johannesboyne/gofakes3/backend/s3mem"

	"github.com/kuitang/scenario-suite/internal/obs"
)

// Local is an in-memory S3 server on a loopback port.
type Local struct {
	*Client
	URL string
	srv *http.Server
}

// NewLocal starts a gofakes3 server backed by memory, creates bucket and
// returns a client for it. Objects are lost when Close is called.
func NewLocal(ctx context.Context, bucket string) (*Local, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("artifacts: listen: %w", err)
	}
	faker := gofakes3.New(s3mem.New())
	srv := &http.Server{Handler: faker.Server(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			obs.Pkg("artifacts").Error("local_s3_stopped", "error", err)
		}
	}()
	url := "http://" + ln.Addr().String()

	client, err := New(ctx, Config{
		Endpoint:        url,
		Region:          "us-east-1",
		AccessKeyID:     "local-key",
		SecretAccessKey: "local-secret",
		BucketName:      bucket,
		PublicURL:       url + "/" + bucket,
		UsePathStyle:    true,
	})
	if err != nil {
		srv.Close()
		return nil, err
	}
	if _, err := client.s3Client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)}); err != nil {
		srv.Close()
		return nil, fmt.Errorf("artifacts: create bucket %q: %w", bucket, err)
	}
	return &Local{Client: client, URL: url, srv: srv}, nil
}

func (l *Local) Close() error {
	return l.srv.Close()
}
