package cucumber

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/cucumber/godog"
)

func init() {
	StepModules = append(StepModules, func(ctx *godog.ScenarioContext, s *TestScenario) {
		ctx.Step(`^I call (GET|POST|PUT|DELETE) "([^"]*)"$`, s.sendHTTPRequest)
		ctx.Step(`^I call (GET|POST|PUT|DELETE) "([^"]*)" with body:$`, s.SendHTTPRequestWithJSONBody)

		ctx.Step(`^the response code should be (\d+)$`, s.theResponseCodeShouldBe)
		ctx.Step(`^the response should match json:$`, s.theResponseShouldMatchJSON)
		ctx.Step(`^the response should contain json:$`, s.theResponseShouldContainJSON)
		ctx.Step(`^I store the "([^"]*)" selection from the response as \${([^}]*)}$`, s.iStoreTheSelectionAs)
		ctx.Step(`^the "([^"]*)" selection from the response should match "([^"]*)"$`, s.theSelectionShouldMatch)
	})
}

func (s *TestScenario) sendHTTPRequest(method, path string) error {
	return s.SendHTTPRequestWithJSONBody(method, path, nil)
}

// SendHTTPRequestWithJSONBody expands path and body, sends the request with
// the suite API key and records the response.
func (s *TestScenario) SendHTTPRequestWithJSONBody(method, path string, doc *godog.DocString) error {
	path, err := s.Expand(path)
	if err != nil {
		return err
	}
	var body io.Reader
	if doc != nil {
		expanded, err := s.Expand(doc.Content)
		if err != nil {
			return err
		}
		body = strings.NewReader(expanded)
	}
	req, err := http.NewRequest(method, s.Suite.APIURL+path, body)
	if err != nil {
		return err
	}
	if doc != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.Suite.APIKey != "" {
		req.Header.Set("X-API-Key", s.Suite.APIKey)
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	s.setResp(resp, data)
	return nil
}

func (s *TestScenario) theResponseCodeShouldBe(expected int) error {
	if s.Resp == nil {
		return fmt.Errorf("no request sent yet")
	}
	if s.Resp.StatusCode != expected {
		return fmt.Errorf("expected response code %d, got %d: %s", expected, s.Resp.StatusCode, bytes.TrimSpace(s.RespBytes))
	}
	return nil
}

func (s *TestScenario) theResponseShouldMatchJSON(doc *godog.DocString) error {
	return s.JSONMustMatch(string(s.RespBytes), doc.Content)
}

func (s *TestScenario) theResponseShouldContainJSON(doc *godog.DocString) error {
	return s.JSONMustContain(string(s.RespBytes), doc.Content)
}

func (s *TestScenario) iStoreTheSelectionAs(selector, name string) error {
	value, err := s.selectResponse(".response" + selector)
	if err != nil {
		return err
	}
	s.Variables[name] = value
	return nil
}

func (s *TestScenario) theSelectionShouldMatch(selector, expected string) error {
	value, err := s.selectResponse(".response" + selector)
	if err != nil {
		return err
	}
	expected, err = s.Expand(expected)
	if err != nil {
		return err
	}
	if actual := fmt.Sprintf("%v", value); actual != expected {
		return fmt.Errorf("selection %s: expected %q, got %q", selector, expected, actual)
	}
	return nil
}
