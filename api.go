package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

const defaultHttpTimeout = 60 * time.Second
const defaultHttpConnectTimeout = 5 * time.Second
const defaultHttpTlsTimeout = 5 * time.Second

func defaultClient() *http.Client {
	// see https://medium.com/@nate510/don-t-use-go-s-default-http-client-4804cb19f779
	dialer := &net.Dialer{
		Timeout: defaultHttpConnectTimeout,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: defaultHttpTlsTimeout,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   defaultHttpTimeout,
	}
}

// no overall timeout. Used for the server-push stream, where the deadline
// belongs to the resilience layer.
func streamClient() *http.Client {
	dialer := &net.Dialer{
		Timeout: defaultHttpConnectTimeout,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: defaultHttpTlsTimeout,
	}
	return &http.Client{
		Transport: transport,
	}
}

type apiCallback[R any] interface {
	Result(result R, err error)
}

// for internal use
type simpleApiCallback[R any] struct {
	callback func(result R, err error)
}

func NewApiCallback[R any](callback func(result R, err error)) apiCallback[R] {
	return &simpleApiCallback[R]{
		callback: callback,
	}
}

func NewNoopApiCallback[R any]() apiCallback[R] {
	return &simpleApiCallback[R]{
		callback: func(result R, err error) {},
	}
}

func (self *simpleApiCallback[R]) Result(result R, err error) {
	self.callback(result, err)
}

type ApiCallbackResult[R any] struct {
	Result R
	Error  error
}

func NewBlockingApiCallback[R any]() (apiCallback[R], chan ApiCallbackResult[R]) {
	c := make(chan ApiCallbackResult[R])
	apiCallback := NewApiCallback[R](func(result R, err error) {
		c <- ApiCallbackResult[R]{
			Result: result,
			Error:  err,
		}
	})
	return apiCallback, c
}

// UserApi is the single-shot request adapter over the backend rest surface.
// Nothing assumes a process-wide instance; construct one per base url and
// inject it where it is needed.
type UserApi struct {
	ctx    context.Context
	cancel context.CancelFunc

	apiUrl string

	client     *http.Client
	pushClient *http.Client
}

func NewUserApi(apiUrl string) *UserApi {
	return NewUserApiWithContext(context.Background(), apiUrl)
}

func NewUserApiWithContext(ctx context.Context, apiUrl string) *UserApi {
	cancelCtx, cancel := context.WithCancel(ctx)

	return &UserApi{
		ctx:        cancelCtx,
		cancel:     cancel,
		apiUrl:     apiUrl,
		client:     defaultClient(),
		pushClient: streamClient(),
	}
}

func (self *UserApi) Close() {
	self.cancel()
}

type GetUserCallback apiCallback[*User]

func (self *UserApi) GetUser(userId int64, callback GetUserCallback) {
	go get(
		self.ctx,
		self.client,
		fmt.Sprintf("%s/api/users/%d", self.apiUrl, userId),
		&User{},
		callback,
	)
}

func (self *UserApi) GetUserSync(userId int64) (*User, error) {
	return get(
		self.ctx,
		self.client,
		fmt.Sprintf("%s/api/users/%d", self.apiUrl, userId),
		&User{},
		NewNoopApiCallback[*User](),
	)
}

type CreateUserCallback apiCallback[*User]

func (self *UserApi) CreateUser(createUser *CreateUserArgs, callback CreateUserCallback) {
	go post(
		self.ctx,
		self.client,
		fmt.Sprintf("%s/api/users", self.apiUrl),
		createUser,
		&User{},
		callback,
	)
}

func (self *UserApi) CreateUserSync(createUser *CreateUserArgs) (*User, error) {
	return post(
		self.ctx,
		self.client,
		fmt.Sprintf("%s/api/users", self.apiUrl),
		createUser,
		&User{},
		NewNoopApiCallback[*User](),
	)
}

type RemoveUserResult struct {
	// the backend replies with an empty body on success
}

type RemoveUserCallback apiCallback[*RemoveUserResult]

func (self *UserApi) RemoveUser(userId int64, callback RemoveUserCallback) {
	go del(
		self.ctx,
		self.client,
		fmt.Sprintf("%s/api/users/%d", self.apiUrl, userId),
		&RemoveUserResult{},
		callback,
	)
}

func (self *UserApi) RemoveUserSync(userId int64) (*RemoveUserResult, error) {
	return del(
		self.ctx,
		self.client,
		fmt.Sprintf("%s/api/users/%d", self.apiUrl, userId),
		&RemoveUserResult{},
		NewNoopApiCallback[*RemoveUserResult](),
	)
}

// TestError hits the backend endpoint that always fails. Used to exercise
// the error path end to end.
func (self *UserApi) TestError(callback GetUserCallback) {
	go get(
		self.ctx,
		self.client,
		fmt.Sprintf("%s/api/users/test-error", self.apiUrl),
		&User{},
		callback,
	)
}

func (self *UserApi) TestErrorSync() (*User, error) {
	return get(
		self.ctx,
		self.client,
		fmt.Sprintf("%s/api/users/test-error", self.apiUrl),
		&User{},
		NewNoopApiCallback[*User](),
	)
}

func (self *UserApi) TestBadRequestSync() (*User, error) {
	return get(
		self.ctx,
		self.client,
		fmt.Sprintf("%s/api/users/test-bad-request", self.apiUrl),
		&User{},
		NewNoopApiCallback[*User](),
	)
}

// UserProducer is the single-shot read adapter for one user, in producer
// form. The run uses the subscriber's ctx so that cancellation and the
// resilience deadline propagate to the request.
func (self *UserApi) UserProducer(userId int64) Producer[*User] {
	return Single(func(ctx context.Context) (*User, error) {
		return get(
			ctx,
			self.client,
			fmt.Sprintf("%s/api/users/%d", self.apiUrl, userId),
			&User{},
			NewNoopApiCallback[*User](),
		)
	})
}

// UsersProducer is the server-push list adapter in producer form. The
// stream is materialized as a single batch when it terminates.
func (self *UserApi) UsersProducer() Producer[[]*User] {
	return Single(func(ctx context.Context) ([]*User, error) {
		return self.listUsers(ctx)
	})
}

type ListUsersCallback apiCallback[[]*User]

func (self *UserApi) ListUsers(callback ListUsersCallback) {
	go func() {
		users, err := self.listUsers(self.ctx)
		callback.Result(users, err)
	}()
}

func (self *UserApi) ListUsersSync() ([]*User, error) {
	return self.listUsers(self.ctx)
}

func get[R any](ctx context.Context, client *http.Client, url string, result R, callback apiCallback[R]) (R, error) {
	return request(ctx, client, "GET", url, nil, result, callback)
}

func post[R any](ctx context.Context, client *http.Client, url string, args any, result R, callback apiCallback[R]) (R, error) {
	return request(ctx, client, "POST", url, args, result, callback)
}

func del[R any](ctx context.Context, client *http.Client, url string, result R, callback apiCallback[R]) (R, error) {
	return request(ctx, client, "DELETE", url, nil, result, callback)
}

func request[R any](ctx context.Context, client *http.Client, method string, url string, args any, result R, callback apiCallback[R]) (R, error) {
	var empty R

	var requestBody io.Reader
	if args != nil {
		requestBodyBytes, err := json.Marshal(args)
		if err != nil {
			apiErr := NormalizeError(err)
			callback.Result(empty, apiErr)
			return empty, apiErr
		}
		requestBody = bytes.NewReader(requestBodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, requestBody)
	if err != nil {
		apiErr := NormalizeError(err)
		callback.Result(empty, apiErr)
		return empty, apiErr
	}

	req.Header.Add("Content-Type", "application/json")

	r, err := client.Do(req)
	if err != nil {
		apiErr := NormalizeError(err)
		callback.Result(empty, apiErr)
		return empty, apiErr
	}
	defer r.Body.Close()

	responseBodyBytes, err := io.ReadAll(r.Body)
	if err != nil {
		apiErr := NormalizeError(err)
		callback.Result(empty, apiErr)
		return empty, apiErr
	}

	if r.StatusCode < 200 || 300 <= r.StatusCode {
		apiErr := errorFromResponse(r.StatusCode, responseBodyBytes)
		callback.Result(empty, apiErr)
		return empty, apiErr
	}

	if 0 < len(responseBodyBytes) {
		if err := json.Unmarshal(responseBodyBytes, &result); err != nil {
			apiErr := NormalizeError(err)
			callback.Result(empty, apiErr)
			return empty, apiErr
		}
	}

	callback.Result(result, nil)
	return result, nil
}

// the backend reports failures as a structured `{message, status, timestamp}`
// body. Fall back to the raw body text when it isn't one.
func errorFromResponse(statusCode int, body []byte) *ApiError {
	apiErr := &ApiError{}
	if err := json.Unmarshal(body, apiErr); err == nil && apiErr.Message != "" {
		if apiErr.Status == 0 {
			apiErr.Status = statusCode
		}
		if apiErr.Timestamp == "" {
			apiErr.Timestamp = time.Now().UTC().Format(TimeFormat)
		}
		return apiErr
	}
	message := strings.TrimSpace(string(body))
	if message == "" {
		message = http.StatusText(statusCode)
	}
	return NewApiError(statusCode, message)
}
