// Package bdd runs the feature suite against a server started in-process.
package bdd

import (
	"context"
	"fmt"
	"time"

	"github.com/chirino/conversation-identity/internal/identity"
	registrykv "github.com/chirino/conversation-identity/internal/registry/kv"
	"github.com/chirino/conversation-identity/internal/testutil/cucumber"
	"github.com/cucumber/godog"
)

const kvExtraKey = "kv"

func init() {
	cucumber.StepModules = append(cucumber.StepModules, func(ctx *godog.ScenarioContext, s *cucumber.TestScenario) {
		st := &stateSteps{s: s}
		ctx.Step(`^the canonical id of business id "([^"]*)" is stored as \${([^}]*)}$`, st.canonicalIDStoredAs)
		ctx.Step(`^conversation "([^"]*)" has state "([^"]*)" set to "([^"]*)"$`, st.putState)
		ctx.Step(`^conversation "([^"]*)" should have state "([^"]*)" set to "([^"]*)"$`, st.stateShouldBe)
		ctx.Step(`^conversation "([^"]*)" should have no state "([^"]*)"$`, st.stateShouldBeAbsent)
	})
}

type stateSteps struct {
	s *cucumber.TestScenario
}

func (st *stateSteps) kv() registrykv.KeyValueStore {
	return st.s.Suite.Extra[kvExtraKey].(registrykv.KeyValueStore)
}

func (st *stateSteps) canonicalIDStoredAs(businessID, name string) error {
	id, err := identity.CanonicalIDFor(businessID)
	if err != nil {
		return err
	}
	st.s.Variables[name] = id
	return nil
}

func (st *stateSteps) key(conversationID, suffix string) (string, error) {
	id, err := st.s.Expand(conversationID)
	if err != nil {
		return "", err
	}
	return identity.StateKey(id, suffix), nil
}

func (st *stateSteps) putState(conversationID, suffix, value string) error {
	key, err := st.key(conversationID, suffix)
	if err != nil {
		return err
	}
	return st.kv().Put(context.Background(), key, value, time.Hour)
}

func (st *stateSteps) stateShouldBe(conversationID, suffix, expected string) error {
	key, err := st.key(conversationID, suffix)
	if err != nil {
		return err
	}
	v, ok, err := st.kv().Get(context.Background(), key)
	if err != nil {
		return err
	}
	if !ok || v != expected {
		return fmt.Errorf("state %s: expected %q, got %q (present=%v)", key, expected, v, ok)
	}
	return nil
}

func (st *stateSteps) stateShouldBeAbsent(conversationID, suffix string) error {
	key, err := st.key(conversationID, suffix)
	if err != nil {
		return err
	}
	v, ok, err := st.kv().Get(context.Background(), key)
	if err != nil {
		return err
	}
	if ok {
		return fmt.Errorf("state %s: expected absent, got %q", key, v)
	}
	return nil
}
