// Package cucumber provides a godog-based BDD test harness for the HTTP API.
//
// Variables are scoped to the scenario. Variable resolution supports:
//   - ${variableName}           → scenario variable lookup
//   - ${response}               → last HTTP response body as JSON
//   - ${response.field}         → response body field via gojq
//   - ${variable | pipe}        → pipe transformations (json, string)
package cucumber

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/cucumber/godog"
	"github.com/cucumber/godog/colors"
	"github.com/itchyny/gojq"
	"github.com/pmezard/go-difflib/difflib"
)

// NewTestSuite returns a suite pointed at a local server.
func NewTestSuite() *TestSuite {
	return &TestSuite{
		APIURL: "http://localhost:8080",
		Extra:  map[string]interface{}{},
	}
}

// DefaultOptions runs the features found under ./features.
func DefaultOptions() godog.Options {
	return godog.Options{
		Output:      colors.Colored(os.Stdout),
		Format:      "progress",
		Paths:       []string{"features"},
		Randomize:   time.Now().UTC().UnixNano(),
		Concurrency: 1,
	}
}

// ApplyReportOptions configures junit XML output when GODOG_REPORT_DIR is set.
// The returned cleanup must be called after the suite runs.
func ApplyReportOptions(opts *godog.Options, testName string) func() {
	reportDir := os.Getenv("GODOG_REPORT_DIR")
	if reportDir == "" {
		return func() {}
	}
	if err := os.MkdirAll(reportDir, 0o755); err != nil {
		return func() {}
	}
	f, err := os.Create(filepath.Join(reportDir, strings.ReplaceAll(testName, "/", "-")+".xml"))
	if err != nil {
		return func() {}
	}
	opts.Output = f
	opts.Format = "junit"
	return func() { _ = f.Close() }
}

// TestSuite holds state global to all scenarios.
type TestSuite struct {
	APIURL   string
	APIKey   string
	TestingT *testing.T
	Extra    map[string]interface{} // test-scoped objects such as backends
}

// TestScenario holds state for a single scenario. Not accessed concurrently.
type TestScenario struct {
	Suite     *TestSuite
	Variables map[string]interface{}
	Client    *http.Client
	Resp      *http.Response
	RespBytes []byte
	respJSON  interface{}
}

// StepModules register steps with a godog.ScenarioContext.
var StepModules []func(ctx *godog.ScenarioContext, s *TestScenario)

// InitializeScenario is the godog ScenarioInitializer.
func (suite *TestSuite) InitializeScenario(ctx *godog.ScenarioContext) {
	s := &TestScenario{
		Suite:     suite,
		Variables: map[string]interface{}{},
		Client:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, module := range StepModules {
		module(ctx, s)
	}
}

func (s *TestScenario) Logf(format string, args ...any) {
	s.Suite.TestingT.Logf(format, args...)
}

// RespJSON returns the last HTTP response body as parsed JSON.
func (s *TestScenario) RespJSON() (interface{}, error) {
	if s.respJSON == nil {
		if s.RespBytes == nil {
			return nil, fmt.Errorf("no response body")
		}
		if err := json.Unmarshal(s.RespBytes, &s.respJSON); err != nil {
			return nil, fmt.Errorf("error parsing response json: %w\njson was:\n%s", err, s.RespBytes)
		}
	}
	return s.respJSON, nil
}

func (s *TestScenario) setResp(resp *http.Response, body []byte) {
	s.Resp = resp
	s.RespBytes = body
	s.respJSON = nil
}

// Expand replaces ${var} references in value.
func (s *TestScenario) Expand(value string) (result string, rerr error) {
	return os.Expand(value, func(name string) string {
		res, err := s.ResolveString(name)
		if err != nil && rerr == nil {
			rerr = err
		}
		return res
	}), rerr
}

func (s *TestScenario) ResolveString(name string) (string, error) {
	value, err := s.Resolve(name)
	if err != nil {
		return "", err
	}
	switch v := value.(type) {
	case string:
		return v, nil
	case nil:
		return "", nil
	case float64:
		return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%f", v), "0"), "."), nil
	case bool, int:
		return fmt.Sprintf("%v", v), nil
	}
	b, err := json.Marshal(value)
	return string(b), err
}

// Resolve evaluates a variable reference with optional pipes.
func (s *TestScenario) Resolve(name string) (interface{}, error) {
	pipes := strings.Split(name, "|")
	for i := range pipes {
		pipes[i] = strings.TrimSpace(pipes[i])
	}
	name, pipes = pipes[0], pipes[1:]

	var (
		value interface{}
		err   error
	)
	switch {
	case name == "response":
		value, err = s.RespJSON()
	case strings.HasPrefix(name, "response.") || strings.HasPrefix(name, "response["):
		value, err = s.selectResponse("." + name)
	default:
		var found bool
		value, found = s.Variables[name]
		if !found {
			err = fmt.Errorf("variable ${%s} not defined yet", name)
		}
	}
	for _, pipe := range pipes {
		fn := PipeFunctions[pipe]
		if fn == nil {
			return nil, fmt.Errorf("unknown pipe: %s", pipe)
		}
		value, err = fn(value, err)
	}
	return value, err
}

func (s *TestScenario) selectResponse(selector string) (interface{}, error) {
	query, err := gojq.Parse(selector)
	if err != nil {
		return nil, err
	}
	j, err := s.RespJSON()
	if err != nil {
		return nil, err
	}
	iter := query.Run(map[string]interface{}{"response": j})
	next, found := iter.Next()
	if !found {
		return nil, fmt.Errorf("selection %s not found in json response:\n%s", selector, s.RespBytes)
	}
	if err, ok := next.(error); ok {
		return nil, err
	}
	return next, nil
}

var PipeFunctions = map[string]func(any, error) (any, error){
	"json": func(value any, err error) (any, error) {
		if err != nil {
			return value, err
		}
		b, err := json.MarshalIndent(value, "", "  ")
		return string(b), err
	},
	"string": func(value any, err error) (any, error) {
		if err != nil {
			return value, err
		}
		return fmt.Sprintf("%v", value), nil
	},
}

// JSONMustMatch compares actual against the expanded expected document.
func (s *TestScenario) JSONMustMatch(actual, expected string) error {
	var actualParsed, expectedParsed interface{}
	if err := json.Unmarshal([]byte(actual), &actualParsed); err != nil {
		return fmt.Errorf("error parsing actual json: %w\njson was:\n%s", err, actual)
	}
	expanded, err := s.Expand(expected)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(expanded), &expectedParsed); err != nil {
		return fmt.Errorf("error parsing expected json: %w\njson was:\n%s", err, expanded)
	}
	if reflect.DeepEqual(expectedParsed, actualParsed) {
		return nil
	}
	return fmt.Errorf("actual does not match expected, diff:\n%s", diff(expectedParsed, actualParsed))
}

// JSONMustContain checks that every field of expected is present in actual.
func (s *TestScenario) JSONMustContain(actual, expected string) error {
	var actualParsed, expectedParsed interface{}
	if err := json.Unmarshal([]byte(actual), &actualParsed); err != nil {
		return fmt.Errorf("error parsing actual json: %w\njson was:\n%s", err, actual)
	}
	expanded, err := s.Expand(expected)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(expanded), &expectedParsed); err != nil {
		return fmt.Errorf("error parsing expected json: %w\njson was:\n%s", err, expanded)
	}
	if err := jsonSubset(expectedParsed, actualParsed, ""); err != nil {
		return fmt.Errorf("actual does not contain expected: %s\ndiff:\n%s", err, diff(expectedParsed, actualParsed))
	}
	return nil
}

func diff(expected, actual interface{}) string {
	e, _ := json.MarshalIndent(expected, "", "  ")
	a, _ := json.MarshalIndent(actual, "", "  ")
	out, _ := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(e)),
		B:        difflib.SplitLines(string(a)),
		FromFile: "Expected",
		ToFile:   "Actual",
		Context:  1,
	})
	return out
}

// jsonSubset: objects may carry extra keys, arrays must have equal length.
func jsonSubset(expected, actual interface{}, path string) error {
	switch exp := expected.(type) {
	case map[string]interface{}:
		act, ok := actual.(map[string]interface{})
		if !ok {
			return fmt.Errorf("at $%s: expected object, got %T", path, actual)
		}
		for key, expVal := range exp {
			actVal, exists := act[key]
			if !exists {
				return fmt.Errorf("at $%s: missing key %q", path, key)
			}
			if err := jsonSubset(expVal, actVal, path+"."+key); err != nil {
				return err
			}
		}
	case []interface{}:
		act, ok := actual.([]interface{})
		if !ok {
			return fmt.Errorf("at $%s: expected array, got %T", path, actual)
		}
		if len(exp) != len(act) {
			return fmt.Errorf("at $%s: expected array length %d, got %d", path, len(exp), len(act))
		}
		for i := range exp {
			if err := jsonSubset(exp[i], act[i], fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
	default:
		if !reflect.DeepEqual(expected, actual) {
			return fmt.Errorf("at $%s: expected %v (%T), got %v (%T)", path, expected, expected, actual, actual)
		}
	}
	return nil
}
