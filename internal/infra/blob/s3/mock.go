package s3

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// mockPageSize keeps listings paginated even for small fixtures.
const mockPageSize = 2

// NewMockForTests returns a Store whose HTTP transport is an in-process fake
// bucket. It implements the object calls the Store issues and nothing more.
func NewMockForTests() *Store {
	awsCfg := aws.Config{
		Region:      defaultRegion,
		Credentials: credentials.NewStaticCredentialsProvider("AKIAMOCK", "mock-secret", ""),
	}
	return newStore(awsCfg, Config{Bucket: "pharmanet-archives", Endpoint: "https://mock.s3.local", PathStyle: true},
		func(o *s3.Options) {
			o.HTTPClient = &http.Client{Transport: &fakeBucket{objects: map[string]fakeObject{}}}
			o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		})
}

type fakeObject struct {
	body        []byte
	contentType string
	metadata    http.Header
	stored      time.Time
}

type fakeBucket struct {
	mu      sync.Mutex
	objects map[string]fakeObject
}

var lastModified = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func reply(status int, body string, header http.Header) *http.Response {
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{
		StatusCode:    status,
		Header:        header,
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
	}
}

func errorReply(status int, code string) *http.Response {
	return reply(status, "<Error><Code>"+code+"</Code></Error>", http.Header{"Content-Type": {"application/xml"}})
}

func (b *fakeBucket) RoundTrip(req *http.Request) (*http.Response, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// path style: /<bucket>/<key>
	_, key, _ := strings.Cut(strings.TrimPrefix(req.URL.Path, "/"), "/")
	query := req.URL.Query()
	switch {
	case req.Method == http.MethodGet && query.Get("list-type") == "2":
		return b.list(query.Get("prefix"), query.Get("continuation-token")), nil
	case req.Method == http.MethodPut:
		return b.put(req, key)
	case req.Method == http.MethodHead, req.Method == http.MethodGet:
		obj, ok := b.objects[key]
		if !ok {
			if req.Method == http.MethodHead {
				return reply(http.StatusNotFound, "", nil), nil
			}
			return errorReply(http.StatusNotFound, "NoSuchKey"), nil
		}
		header := http.Header{
			"Content-Type":   {obj.contentType},
			"Content-Length": {strconv.Itoa(len(obj.body))},
			"Etag":           {fmt.Sprintf("%q", etag(obj.body))},
			"Last-Modified":  {obj.stored.Format(http.TimeFormat)},
		}
		for k, v := range obj.metadata {
			header[k] = v
		}
		body := string(obj.body)
		if req.Method == http.MethodHead {
			body = ""
		}
		resp := reply(http.StatusOK, body, header)
		resp.ContentLength = int64(len(obj.body))
		return resp, nil
	case req.Method == http.MethodDelete:
		delete(b.objects, key)
		return reply(http.StatusNoContent, "", nil), nil
	}
	return errorReply(http.StatusNotImplemented, "NotImplemented"), nil
}

func (b *fakeBucket) put(req *http.Request, key string) (*http.Response, error) {
	if _, exists := b.objects[key]; exists && req.Header.Get("If-None-Match") == "*" {
		return errorReply(http.StatusPreconditionFailed, "PreconditionFailed"), nil
	}
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}
	meta := http.Header{}
	for k, v := range req.Header {
		if strings.HasPrefix(strings.ToLower(k), "x-amz-meta-") {
			meta[k] = v
		}
	}
	b.objects[key] = fakeObject{
		body:        bytes.Clone(body),
		contentType: req.Header.Get("Content-Type"),
		metadata:    meta,
		stored:      lastModified,
	}
	return reply(http.StatusOK, "", http.Header{"Etag": {fmt.Sprintf("%q", etag(body))}}), nil
}

func (b *fakeBucket) list(prefix, token string) *http.Response {
	var keys []string
	for k := range b.objects {
		if strings.HasPrefix(k, prefix) && k > token {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	truncated := len(keys) > mockPageSize
	if truncated {
		keys = keys[:mockPageSize]
	}
	var out strings.Builder
	out.WriteString(`<?xml version="1.0" encoding="UTF-8"?><ListBucketResult>`)
	fmt.Fprintf(&out, "<IsTruncated>%t</IsTruncated>", truncated)
	if truncated {
		fmt.Fprintf(&out, "<NextContinuationToken>%s</NextContinuationToken>", keys[len(keys)-1])
	}
	for _, k := range keys {
		obj := b.objects[k]
		fmt.Fprintf(&out, "<Contents><Key>%s</Key><Size>%d</Size><ETag>&quot;%s&quot;</ETag><LastModified>%s</LastModified></Contents>",
			k, len(obj.body), etag(obj.body), obj.stored.Format(time.RFC3339))
	}
	out.WriteString("</ListBucketResult>")
	return reply(http.StatusOK, out.String(), http.Header{"Content-Type": {"application/xml"}})
}

func etag(body []byte) string {
	var sum uint32
	for _, c := range body {
		sum = sum*31 + uint32(c)
	}
	return fmt.Sprintf("%08x", sum)
}
