// Package wechat provides a client for the WeChat Official Account API.
//
// The client manages the app-level access token, dispatches authenticated
// requests, and turns every failure into a single *APIError value.
//
// # Architecture
//
//   - Client: GET and POST dispatch against the API entry
//   - TokenManager: lazy, cached, single-flight access token
//   - OAuth: authorization URL, code exchange and profile lookup
//   - Errors: APIError plus Normalize, the response classifier
//
// # Usage
//
//	logger := zerolog.New(os.Stdout)
//	client, err := wechat.NewClient(
//		"wx1234567890",
//		"app-secret",
//		logger,
//		wechat.WithTimeout(10*time.Second),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	payload, err := client.Get(ctx, "user/info", url.Values{"openid": {openID}})
//	if err != nil {
//		log.Fatal(err)
//	}
//
// # Token attachment
//
// Get merges access_token into the query parameters. Post appends
// "access_token=..." to the path exactly as given: directly when the path
// already holds a '?', otherwise after a new '?'. The platform expects both
// shapes.
//
// When the token cannot be obtained, requests are still sent without it and
// the platform's own error comes back. WithFailFastToken returns the
// credential-grant error instead.
//
// # Error Handling
//
// Every failed call returns an *APIError:
//
//   - HTTP status other than 200: Code is the status, Message "http error"
//   - body not a JSON object: Code 9999, Message "invalid response"
//   - nonzero errcode: Code and Message are errcode and errmsg
//   - no response at all: Code 9998, the cause available through Unwrap
//
//	if apiErr, ok := wechat.AsAPIError(err); ok && apiErr.IsInvalidCredential() {
//		// The platform rejected the token
//	}
package wechat
