// Command authzctl is an HTTP client for authzd's administrative surface
// (spec §6): policy CRUD, principal/OU attachment, and Authorize. Exit
// codes follow spec §6: 0 success, 2 bad input, 3 not found, 4 version
// conflict, 5 validation error, 6 forbidden, 7 transient/retryable.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/util/resiliency"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return 2
	}

	client := &client{
		baseURL: envOr("AUTHZCTL_ADDR", "http://localhost:8080"),
		token:   os.Getenv("AUTHZCTL_TOKEN"),
		http:    resiliency.NewEnhancedClient(),
	}

	switch args[1] {
	case "create-policy":
		return cmdCreatePolicy(client, args[2:], stdout, stderr)
	case "get-policy":
		return cmdGetPolicy(client, args[2:], stdout, stderr)
	case "update-policy":
		return cmdUpdatePolicy(client, args[2:], stdout, stderr)
	case "delete-policy":
		return cmdDeletePolicy(client, args[2:], stdout, stderr)
	case "list-policies":
		return cmdListPolicies(client, args[2:], stdout, stderr)
	case "attach-policy":
		return cmdAttachPolicy(client, args[2:], stdout, stderr)
	case "detach-policy":
		return cmdDetachPolicy(client, args[2:], stdout, stderr)
	case "attach-scp":
		return cmdAttachScp(client, args[2:], stdout, stderr)
	case "detach-scp":
		return cmdDetachScp(client, args[2:], stdout, stderr)
	case "authorize":
		return cmdAuthorize(client, args[2:], stdout, stderr)
	case "propose-schema":
		return cmdProposeSchema(client, args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "%sUnknown command: %s%s\n", colorRed, args[1], colorReset)
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "authzctl - administrative client for the authorization control plane")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Usage: authzctl <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  create-policy   -hrn HRN -kind KIND -source FILE")
	fmt.Fprintln(w, "  get-policy      -hrn HRN")
	fmt.Fprintln(w, "  update-policy   -hrn HRN -source FILE -expected-version N")
	fmt.Fprintln(w, "  delete-policy   -hrn HRN [-force]")
	fmt.Fprintln(w, "  list-policies   [-kind KIND] [-account HRN] [-cursor C] [-limit N]")
	fmt.Fprintln(w, "  attach-policy   -principal HRN -policy HRN")
	fmt.Fprintln(w, "  detach-policy   -principal HRN -policy HRN")
	fmt.Fprintln(w, "  attach-scp      -ou HRN -scp HRN")
	fmt.Fprintln(w, "  detach-scp      -ou HRN -scp HRN")
	fmt.Fprintln(w, "  authorize       -principal HRN -action ACT -resource HRN [-context JSON]")
	fmt.Fprintln(w, "  propose-schema  -file SCHEMA.json")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Environment: AUTHZCTL_ADDR (default http://localhost:8080), AUTHZCTL_TOKEN (bearer JWT)")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// client is a thin HTTP binding over authzd's action-named JSON endpoints.
// It retries transient failures (5xx, connection errors) with backoff and
// trips a circuit breaker against a flapping authzd, via resiliency.
type client struct {
	baseURL string
	token   string
	http    *resiliency.EnhancedClient
}

// problemDetail mirrors the subset of pkg/api.ProblemDetail this client
// needs to map a failed call back to a spec §6 exit code.
type problemDetail struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Status int    `json:"status"`
}

// do POSTs req as JSON to path and decodes the response into out (if
// non-nil). On a non-2xx response it returns the exit code spec §6
// assigns to the returned error kind, along with a human-readable message.
func (c *client) do(path string, req, out any) (exitCode int, errMsg string) {
	body, err := json.Marshal(req)
	if err != nil {
		return 2, fmt.Sprintf("encoding request: %v", err)
	}

	httpReq, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return 2, fmt.Sprintf("building request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return 7, fmt.Sprintf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return 2, fmt.Sprintf("decoding response: %v", err)
			}
		}
		return 0, ""
	}

	var problem problemDetail
	_ = json.NewDecoder(resp.Body).Decode(&problem)
	return exitCodeForKind(problem.Title), problem.Detail
}

// exitCodeForKind maps an apierr.Kind (carried as ProblemDetail.Title) to
// the exit code spec §6 documents for it.
func exitCodeForKind(kind string) int {
	switch kind {
	case "NOT_FOUND":
		return 3
	case "VERSION_CONFLICT":
		return 4
	case "VALIDATION_ERROR", "SCHEMA_ERROR", "ALREADY_EXISTS", "IN_USE":
		return 5
	case "UNAUTHORIZED":
		return 6
	case "TRANSIENT", "DEADLINE_EXCEEDED":
		return 7
	default:
		return 1
	}
}

func fail(stderr io.Writer, code int, msg string) int {
	fmt.Fprintf(stderr, "%serror: %s%s\n", colorRed, msg, colorReset)
	return code
}

func readSource(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func cmdCreatePolicy(c *client, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("create-policy", flag.ContinueOnError)
	hrnFlag := fs.String("hrn", "", "policy HRN")
	kindFlag := fs.String("kind", "", "policy kind (Identity|Resource|SCP|...)")
	sourceFlag := fs.String("source", "", "path to policy source file")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *hrnFlag == "" || *kindFlag == "" || *sourceFlag == "" {
		return fail(stderr, 2, "create-policy requires -hrn, -kind and -source")
	}
	source, err := readSource(*sourceFlag)
	if err != nil {
		return fail(stderr, 2, err.Error())
	}

	var out json.RawMessage
	code, msg := c.do("/v1/policies.Create", map[string]any{
		"hrn": *hrnFlag, "kind": *kindFlag, "source_text": source,
	}, &out)
	if code != 0 {
		return fail(stderr, code, msg)
	}
	fmt.Fprintf(stdout, "%screated %s%s\n", colorGreen, *hrnFlag, colorReset)
	fmt.Fprintln(stdout, string(out))
	return 0
}

func cmdGetPolicy(c *client, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("get-policy", flag.ContinueOnError)
	hrnFlag := fs.String("hrn", "", "policy HRN")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *hrnFlag == "" {
		return fail(stderr, 2, "get-policy requires -hrn")
	}

	var out json.RawMessage
	code, msg := c.do("/v1/policies.Get", map[string]any{"hrn": *hrnFlag}, &out)
	if code != 0 {
		return fail(stderr, code, msg)
	}
	fmt.Fprintln(stdout, string(out))
	return 0
}

func cmdUpdatePolicy(c *client, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("update-policy", flag.ContinueOnError)
	hrnFlag := fs.String("hrn", "", "policy HRN")
	sourceFlag := fs.String("source", "", "path to policy source file")
	expectedVersion := fs.Uint64("expected-version", 0, "expected current version")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *hrnFlag == "" || *sourceFlag == "" {
		return fail(stderr, 2, "update-policy requires -hrn and -source")
	}
	source, err := readSource(*sourceFlag)
	if err != nil {
		return fail(stderr, 2, err.Error())
	}

	var out json.RawMessage
	code, msg := c.do("/v1/policies.Update", map[string]any{
		"hrn": *hrnFlag, "source_text": source, "expected_version": *expectedVersion,
	}, &out)
	if code != 0 {
		return fail(stderr, code, msg)
	}
	fmt.Fprintf(stdout, "%supdated %s%s\n", colorGreen, *hrnFlag, colorReset)
	fmt.Fprintln(stdout, string(out))
	return 0
}

func cmdDeletePolicy(c *client, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("delete-policy", flag.ContinueOnError)
	hrnFlag := fs.String("hrn", "", "policy HRN")
	force := fs.Bool("force", false, "delete even if in use")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *hrnFlag == "" {
		return fail(stderr, 2, "delete-policy requires -hrn")
	}

	code, msg := c.do("/v1/policies.Delete", map[string]any{"hrn": *hrnFlag, "force": *force}, nil)
	if code != 0 {
		return fail(stderr, code, msg)
	}
	fmt.Fprintf(stdout, "%sdeleted %s%s\n", colorGreen, *hrnFlag, colorReset)
	return 0
}

func cmdListPolicies(c *client, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("list-policies", flag.ContinueOnError)
	kindFlag := fs.String("kind", "", "filter by policy kind")
	accountFlag := fs.String("account", "", "filter by owning account HRN")
	cursorFlag := fs.String("cursor", "", "pagination cursor")
	limitFlag := fs.Int("limit", 50, "page size")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	var out json.RawMessage
	code, msg := c.do("/v1/policies.List", map[string]any{
		"kind": *kindFlag, "account": *accountFlag, "cursor": *cursorFlag, "limit": *limitFlag,
	}, &out)
	if code != 0 {
		return fail(stderr, code, msg)
	}
	fmt.Fprintln(stdout, string(out))
	return 0
}

func cmdAttachPolicy(c *client, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("attach-policy", flag.ContinueOnError)
	principalFlag := fs.String("principal", "", "principal HRN")
	policyFlag := fs.String("policy", "", "policy HRN")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *principalFlag == "" || *policyFlag == "" {
		return fail(stderr, 2, "attach-policy requires -principal and -policy")
	}

	code, msg := c.do("/v1/principals.AttachPolicy", map[string]any{
		"principal_hrn": *principalFlag, "policy_hrn": *policyFlag,
	}, nil)
	if code != 0 {
		return fail(stderr, code, msg)
	}
	fmt.Fprintf(stdout, "%sattached%s\n", colorGreen, colorReset)
	return 0
}

func cmdDetachPolicy(c *client, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("detach-policy", flag.ContinueOnError)
	principalFlag := fs.String("principal", "", "principal HRN")
	policyFlag := fs.String("policy", "", "policy HRN")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *principalFlag == "" || *policyFlag == "" {
		return fail(stderr, 2, "detach-policy requires -principal and -policy")
	}

	code, msg := c.do("/v1/principals.DetachPolicy", map[string]any{
		"principal_hrn": *principalFlag, "policy_hrn": *policyFlag,
	}, nil)
	if code != 0 {
		return fail(stderr, code, msg)
	}
	fmt.Fprintf(stdout, "%sdetached%s\n", colorGreen, colorReset)
	return 0
}

func cmdAttachScp(c *client, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("attach-scp", flag.ContinueOnError)
	ouFlag := fs.String("ou", "", "OU HRN")
	scpFlag := fs.String("scp", "", "SCP policy HRN")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *ouFlag == "" || *scpFlag == "" {
		return fail(stderr, 2, "attach-scp requires -ou and -scp")
	}

	code, msg := c.do("/v1/ous.AttachScp", map[string]any{"ou_hrn": *ouFlag, "scp_hrn": *scpFlag}, nil)
	if code != 0 {
		return fail(stderr, code, msg)
	}
	fmt.Fprintf(stdout, "%sattached%s\n", colorGreen, colorReset)
	return 0
}

func cmdDetachScp(c *client, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("detach-scp", flag.ContinueOnError)
	ouFlag := fs.String("ou", "", "OU HRN")
	scpFlag := fs.String("scp", "", "SCP policy HRN")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *ouFlag == "" || *scpFlag == "" {
		return fail(stderr, 2, "detach-scp requires -ou and -scp")
	}

	code, msg := c.do("/v1/ous.DetachScp", map[string]any{"ou_hrn": *ouFlag, "scp_hrn": *scpFlag}, nil)
	if code != 0 {
		return fail(stderr, code, msg)
	}
	fmt.Fprintf(stdout, "%sdetached%s\n", colorGreen, colorReset)
	return 0
}

func cmdAuthorize(c *client, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("authorize", flag.ContinueOnError)
	principalFlag := fs.String("principal", "", "principal HRN")
	actionFlag := fs.String("action", "", "action name")
	resourceFlag := fs.String("resource", "", "resource HRN")
	contextFlag := fs.String("context", "{}", "JSON request context")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *principalFlag == "" || *actionFlag == "" || *resourceFlag == "" {
		return fail(stderr, 2, "authorize requires -principal, -action and -resource")
	}

	var reqContext map[string]any
	if err := json.Unmarshal([]byte(*contextFlag), &reqContext); err != nil {
		return fail(stderr, 2, fmt.Sprintf("invalid -context JSON: %v", err))
	}

	var out struct {
		Allow      bool   `json:"allow"`
		ReasonCode string `json:"reason_code"`
		PolicyRef  string `json:"policy_ref,omitempty"`
		CacheHit   bool   `json:"cache_hit,omitempty"`
	}
	code, msg := c.do("/v1/authorize", map[string]any{
		"principal": *principalFlag, "action": *actionFlag, "resource": *resourceFlag, "context": reqContext,
	}, &out)
	if code != 0 {
		return fail(stderr, code, msg)
	}

	if out.Allow {
		fmt.Fprintf(stdout, "%sALLOW%s  reason=%s policy=%s cache_hit=%v\n", colorGreen, colorReset, out.ReasonCode, out.PolicyRef, out.CacheHit)
		return 0
	}
	fmt.Fprintf(stdout, "%sDENY%s   reason=%s policy=%s cache_hit=%v\n", colorYellow, colorReset, out.ReasonCode, out.PolicyRef, out.CacheHit)
	return 6
}

func cmdProposeSchema(c *client, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("propose-schema", flag.ContinueOnError)
	fileFlag := fs.String("file", "", "path to a schema document JSON file")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *fileFlag == "" {
		return fail(stderr, 2, "propose-schema requires -file")
	}
	doc, err := os.ReadFile(*fileFlag)
	if err != nil {
		return fail(stderr, 2, err.Error())
	}

	var out struct {
		Version uint64 `json:"version"`
	}
	code, msg := c.do("/v1/schema.Propose", json.RawMessage(doc), &out)
	if code != 0 {
		return fail(stderr, code, msg)
	}
	fmt.Fprintf(stdout, "%sactivated schema version %d%s\n", colorGreen, out.Version, colorReset)
	return 0
}
