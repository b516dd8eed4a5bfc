package clientv2

import (
	"net/http"
	"sort"

	"github.com/shuliangfu/upload/errors"
)

type Client interface {
	Do(req *http.Request) (*http.Response, error)
}

type Handler func(req *http.Request) (*http.Response, error)

type client struct {
	coreClient   Client
	interceptors []Interceptor
}

func NewClient(cli Client, interceptors ...Interceptor) Client {
	if cli == nil {
		cli = http.DefaultClient
	}

	var is interceptorList = interceptors
	sort.Sort(is)

	// 反转，低优先级先包装、后执行
	for i, j := 0, len(is)-1; i < j; i, j = i+1, j-1 {
		is[i], is[j] = is[j], is[i]
	}

	return &client{
		coreClient:   cli,
		interceptors: is,
	}
}

func (c *client) Do(req *http.Request) (*http.Response, error) {
	handler := func(req *http.Request) (*http.Response, error) {
		return c.coreClient.Do(req)
	}

	for _, interceptor := range c.interceptors {
		h := handler
		i := interceptor
		handler = func(r *http.Request) (*http.Response, error) {
			return i.Intercept(r, h)
		}
	}

	return handleResponseAndError(handler(req))
}

func handleResponseAndError(resp *http.Response, err error) (*http.Response, error) {
	if err != nil {
		return resp, err
	}

	if resp == nil {
		return nil, &errors.ErrorInfo{Code: -999, Message: "unknown error, no response"}
	}

	if resp.StatusCode/100 != 2 {
		defer resp.Body.Close()
		return resp, errors.ResponseError(resp)
	}

	return resp, nil
}
