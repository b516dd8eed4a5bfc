package clientv2_test

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shuliangfu/upload/auth"
	"github.com/shuliangfu/upload/backoff"
	"github.com/shuliangfu/upload/credentials"
	"github.com/shuliangfu/upload/errors"
	"github.com/shuliangfu/upload/internal/clientv2"
)

func TestClientInterceptorOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	var order []string
	record := func(name string) clientv2.Interceptor {
		var priority clientv2.InterceptorPriority
		switch name {
		case "retry":
			priority = clientv2.InterceptorPriorityRetry
		case "auth":
			priority = clientv2.InterceptorPriorityAuth
		case "debug":
			priority = clientv2.InterceptorPriorityDebug
		}
		return clientv2.NewSimpleInterceptorWithPriority(priority, func(req *http.Request, handler clientv2.Handler) (*http.Response, error) {
			order = append(order, name)
			return handler(req)
		})
	}

	cli := clientv2.NewClient(http.DefaultClient, record("debug"), record("auth"), record("retry"))
	req, err := http.NewRequest(http.MethodGet, server.URL, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := cli.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	// 数字小的优先级高，先执行
	if strings.Join(order, ",") != "retry,auth,debug" {
		t.Fatalf("unexpected interceptor order: %v", order)
	}
}

func TestClientRetryInterceptor(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, "ok")
	}))
	defer server.Close()

	cli := clientv2.NewClient(http.DefaultClient, clientv2.NewRetryInterceptor(clientv2.RetryConfig{
		RetryMax: 3,
		Backoff:  backoff.NewFixedBackoff(time.Millisecond),
	}))
	req, err := http.NewRequest(http.MethodGet, server.URL, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := cli.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("unexpected call count %d", calls)
	}
}

func TestClientRetryExhaustion(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	cli := clientv2.NewClient(http.DefaultClient, clientv2.NewRetryInterceptor(clientv2.RetryConfig{
		RetryMax: 2,
		Backoff:  backoff.NewFixedBackoff(time.Millisecond),
	}))
	req, err := http.NewRequest(http.MethodGet, server.URL, nil)
	if err != nil {
		t.Fatal(err)
	}
	_, err = cli.Do(req)
	if err == nil {
		t.Fatal("expected error after retry exhaustion")
	}
	errInfo, ok := err.(*errors.ErrorInfo)
	if !ok || errInfo.Code != http.StatusBadGateway {
		t.Fatalf("unexpected error: %v", err)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("unexpected call count %d", calls)
	}
}

func TestClientAuthInterceptor(t *testing.T) {
	var authorization string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authorization = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cli := clientv2.NewClient(http.DefaultClient, clientv2.NewAuthInterceptor(clientv2.AuthConfig{
		Signer:      auth.NewV4Signer("us-east-1", "s3"),
		Credentials: credentials.NewStaticCredentialsProvider(credentials.New("ak", "sk")),
		Now:         func() time.Time { return time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC) },
	}))
	req, err := http.NewRequest(http.MethodGet, server.URL+"/bucket/key", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := cli.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if !strings.HasPrefix(authorization, "AWS4-HMAC-SHA256 Credential=ak/20240115/us-east-1/s3/aws4_request,") {
		t.Fatalf("unexpected authorization: %s", authorization)
	}
}
