package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/s0up4200/wxapi/wechat"
)

var (
	showGrant bool
	postData  string
	postFile  string
	postRaw   bool
)

// tokenCmd represents the token command
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Print the application access token",
	Long: `Fetch the application access token with the configured credentials and print it.

With --grant the full credential-grant response is printed instead and the
parameters given with -p are added to the request.`,
	Args: cobra.NoArgs,
	RunE: runToken,
}

// getCmd represents the get command
var getCmd = &cobra.Command{
	Use:   "get PATH",
	Short: "Call an API endpoint with GET",
	Long: `Call {api_entry}PATH with GET. The access token is added to the query string
together with any -p key=value parameters.

Examples:
  wxapi get getcallbackip
  wxapi get user/info -p openid=OPENID --select nickname`,
	Args: cobra.ExactArgs(1),
	RunE: runGet,
}

// postCmd represents the post command
var postCmd = &cobra.Command{
	Use:   "post PATH",
	Short: "Call an API endpoint with POST",
	Long: `Call {api_entry}PATH with POST. The access token is appended to PATH as
"access_token=TOKEN"; when PATH already holds a query string it should end
with '&'.

The body is read from --data, --file or stdin. It is re-encoded as JSON unless
--raw is given, in which case the bytes are sent unchanged.`,
	Args: cobra.ExactArgs(1),
	RunE: runPost,
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(postCmd)

	tokenCmd.Flags().BoolVar(&showGrant, "grant", false, "print the full credential-grant response")
	tokenCmd.Flags().StringArrayVarP(&params, "param", "p", nil, "extra credential-grant parameter as key=value")

	getCmd.Flags().StringArrayVarP(&params, "param", "p", nil, "query parameter as key=value (repeatable)")
	getCmd.Flags().StringVarP(&selectExpr, "select", "s", "", "expression selecting the value to print")

	postCmd.Flags().StringVarP(&postData, "data", "d", "", "request body")
	postCmd.Flags().StringVarP(&postFile, "file", "f", "", "read the request body from a file ('-' for stdin)")
	postCmd.Flags().BoolVar(&postRaw, "raw", false, "send the body without re-encoding it")
	postCmd.Flags().StringVarP(&selectExpr, "select", "s", "", "expression selecting the value to print")
	postCmd.MarkFlagsMutuallyExclusive("data", "file")
}

func runToken(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if showGrant {
		extra, err := parseParams(params)
		if err != nil {
			return err
		}
		payload, err := client.Tokens().FetchAccessToken(ctx, extra)
		if err != nil {
			return fmt.Errorf("failed to fetch access token: %w", err)
		}
		return printJSON(cmd.OutOrStdout(), payload)
	}

	token, ok := client.AccessToken(ctx)
	if !ok {
		if apiErr := client.Tokens().LastError(); apiErr != nil {
			return fmt.Errorf("failed to fetch access token: %w", apiErr)
		}
		return fmt.Errorf("failed to fetch access token")
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}

func runGet(cmd *cobra.Command, args []string) error {
	query, err := parseParams(params)
	if err != nil {
		return err
	}

	logger.Debug().Str("path", args[0]).Int("params", len(query)).Msg("Calling API")

	payload, err := client.Get(context.Background(), args[0], query)
	if err != nil {
		return err
	}
	return printPayload(cmd.OutOrStdout(), payload)
}

func runPost(cmd *cobra.Command, args []string) error {
	body, err := readPostBody(cmd.InOrStdin())
	if err != nil {
		return err
	}

	var payload wechat.Payload
	if postRaw {
		payload, err = client.Post(context.Background(), args[0], body, wechat.WithEncoding(wechat.EncodingRaw))
	} else {
		var decoded any
		if err := decodeJSON(body, &decoded); err != nil {
			return fmt.Errorf("request body is not valid JSON: %w", err)
		}
		payload, err = client.Post(context.Background(), args[0], decoded)
	}
	if err != nil {
		return err
	}
	return printPayload(cmd.OutOrStdout(), payload)
}

// readPostBody returns the body given by --data or --file, or stdin
func readPostBody(stdin io.Reader) ([]byte, error) {
	switch {
	case postData != "":
		return []byte(postData), nil
	case postFile != "" && postFile != "-":
		body, err := os.ReadFile(postFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read body: %w", err)
		}
		return body, nil
	default:
		body, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read body from stdin: %w", err)
		}
		return body, nil
	}
}
