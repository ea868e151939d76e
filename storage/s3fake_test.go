package storage

import (
	"bufio"
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

const amzMetaPrefix = "X-Amz-Meta-"

type fakeObject struct {
	data        []byte
	contentType string
	meta        map[string]string
	modified    time.Time
}

// fakeS3 is a path-style S3 endpoint good enough for minio-go and aws-sdk-go:
// object PUT/GET/HEAD/DELETE and ListObjectsV2.
type fakeS3 struct {
	t      *testing.T
	bucket string

	mu       sync.Mutex
	objects  map[string]fakeObject
	requests []string
	failPuts bool
}

func newFakeS3(t *testing.T, bucket string) (*fakeS3, *httptest.Server) {
	f := &fakeS3{t: t, bucket: bucket, objects: make(map[string]fakeObject)}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeS3) put(key string, obj fakeObject) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if obj.modified.IsZero() {
		obj.modified = time.Now().UTC()
	}
	f.objects[key] = obj
}

func (f *fakeS3) get(key string) (fakeObject, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[key]
	return obj, ok
}

func (f *fakeS3) count(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.requests {
		if strings.HasPrefix(r, method+" ") {
			n++
		}
	}
	return n
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.requests = append(f.requests, r.Method+" "+r.URL.Path)
	f.mu.Unlock()

	path := strings.TrimPrefix(r.URL.Path, "/")
	bucket, key, _ := strings.Cut(path, "/")
	if bucket != f.bucket {
		writeS3Error(w, http.StatusNotFound, "NoSuchBucket", r.Method)
		return
	}

	if key == "" {
		if r.Method == http.MethodGet && r.URL.Query().Get("list-type") == "2" {
			f.list(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
		return
	}

	switch r.Method {
	case http.MethodPut:
		f.handlePut(w, r, key)
	case http.MethodGet, http.MethodHead:
		obj, ok := f.get(key)
		if !ok {
			writeS3Error(w, http.StatusNotFound, "NoSuchKey", r.Method)
			return
		}
		sum := md5.Sum(obj.data)
		h := w.Header()
		h.Set("Content-Type", obj.contentType)
		h.Set("Content-Length", strconv.Itoa(len(obj.data)))
		h.Set("Last-Modified", obj.modified.Format(http.TimeFormat))
		h.Set("ETag", `"`+hex.EncodeToString(sum[:])+`"`)
		for k, v := range obj.meta {
			h.Set(amzMetaPrefix+k, v)
		}
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			w.Write(obj.data)
		}
	case http.MethodDelete:
		f.mu.Lock()
		delete(f.objects, key)
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *fakeS3) handlePut(w http.ResponseWriter, r *http.Request, key string) {
	f.mu.Lock()
	fail := f.failPuts
	f.mu.Unlock()
	if fail {
		writeS3Error(w, http.StatusInternalServerError, "InternalError", r.Method)
		return
	}

	var (
		data []byte
		err  error
	)
	if strings.HasPrefix(r.Header.Get("X-Amz-Content-Sha256"), "STREAMING-") ||
		strings.Contains(r.Header.Get("Content-Encoding"), "aws-chunked") {
		data, err = decodeAWSChunked(r.Body)
	} else {
		data, err = io.ReadAll(r.Body)
	}
	if err != nil {
		f.t.Errorf("fake s3: reading body: %v", err)
		writeS3Error(w, http.StatusBadRequest, "IncompleteBody", r.Method)
		return
	}

	meta := make(map[string]string)
	for k, vs := range r.Header {
		if strings.HasPrefix(k, amzMetaPrefix) && len(vs) > 0 {
			meta[strings.TrimPrefix(k, amzMetaPrefix)] = vs[0]
		}
	}
	f.put(key, fakeObject{data: data, contentType: r.Header.Get("Content-Type"), meta: meta})

	sum := md5.Sum(data)
	w.Header().Set("ETag", `"`+hex.EncodeToString(sum[:])+`"`)
	w.WriteHeader(http.StatusOK)
}

type listContents struct {
	Key          string `xml:"Key"`
	LastModified string `xml:"LastModified"`
	ETag         string `xml:"ETag"`
	Size         int64  `xml:"Size"`
	StorageClass string `xml:"StorageClass"`
}

type listPrefix struct {
	Prefix string `xml:"Prefix"`
}

type listBucketResult struct {
	XMLName        xml.Name       `xml:"http://s3.amazonaws.com/doc/2006-03-01/ ListBucketResult"`
	Name           string         `xml:"Name"`
	Prefix         string         `xml:"Prefix"`
	KeyCount       int            `xml:"KeyCount"`
	MaxKeys        int            `xml:"MaxKeys"`
	Delimiter      string         `xml:"Delimiter,omitempty"`
	IsTruncated    bool           `xml:"IsTruncated"`
	Contents       []listContents `xml:"Contents"`
	CommonPrefixes []listPrefix   `xml:"CommonPrefixes"`
}

func (f *fakeS3) list(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")
	delimiter := r.URL.Query().Get("delimiter")

	f.mu.Lock()
	keys := make([]string, 0, len(f.objects))
	for k := range f.objects {
		keys = append(keys, k)
	}
	objects := make(map[string]fakeObject, len(f.objects))
	for k, v := range f.objects {
		objects[k] = v
	}
	f.mu.Unlock()
	sort.Strings(keys)

	res := listBucketResult{Name: f.bucket, Prefix: prefix, MaxKeys: 1000, Delimiter: delimiter}
	seenPrefix := make(map[string]bool)
	for _, k := range keys {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		rest := strings.TrimPrefix(k, prefix)
		if delimiter != "" {
			if idx := strings.Index(rest, delimiter); idx >= 0 {
				p := prefix + rest[:idx+len(delimiter)]
				if !seenPrefix[p] {
					seenPrefix[p] = true
					res.CommonPrefixes = append(res.CommonPrefixes, listPrefix{Prefix: p})
				}
				continue
			}
		}
		obj := objects[k]
		sum := md5.Sum(obj.data)
		res.Contents = append(res.Contents, listContents{
			Key:          k,
			LastModified: obj.modified.Format("2006-01-02T15:04:05.000Z"),
			ETag:         `"` + hex.EncodeToString(sum[:]) + `"`,
			Size:         int64(len(obj.data)),
			StorageClass: "STANDARD",
		})
	}
	res.KeyCount = len(res.Contents) + len(res.CommonPrefixes)

	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(xml.Header))
	xml.NewEncoder(w).Encode(res)
}

func writeS3Error(w http.ResponseWriter, status int, code, method string) {
	if method == http.MethodHead {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>%s</Code><Message>%s</Message><RequestId>fake</RequestId></Error>`, code, code)
}

// decodeAWSChunked strips aws-chunked framing: "<hex-size>[;ext]\r\n<data>\r\n" ... "0\r\n" [trailers].
func decodeAWSChunked(body io.Reader) ([]byte, error) {
	br := bufio.NewReader(body)
	var out bytes.Buffer
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		sizeHex, _, _ := strings.Cut(line, ";")
		size, err := strconv.ParseInt(strings.TrimSpace(sizeHex), 16, 64)
		if err != nil {
			return nil, fmt.Errorf("bad chunk header %q: %w", line, err)
		}
		if size == 0 {
			return out.Bytes(), nil
		}
		if _, err := io.CopyN(&out, br, size); err != nil {
			return nil, err
		}
		if _, err := br.ReadString('\n'); err != nil {
			return nil, err
		}
	}
}
