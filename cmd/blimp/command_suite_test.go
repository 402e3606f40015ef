package main

import (
	"bytes"
	"context"
	"io"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"

	"github.com/srg/blimp/internal/peripheral"
	"github.com/srg/blimp/internal/stackfactory"
	"github.com/srg/blimp/internal/testutils"
	"github.com/srg/blimp/pkg/config"
)

const testCentral = "AA:BB:CC:DD:EE:FF"

// closeCounter counts Close calls on the injected stack.
type closeCounter struct {
	closed int
}

func (c *closeCounter) Close() error {
	c.closed++
	return nil
}

// CommandTestSuite injects a MockStack through stackfactory.StackFactory and
// resets the package-level flag variables between tests.
// All cmd/blimp test suites should embed it.
type CommandTestSuite struct {
	suite.Suite
	helper  *testutils.TestHelper
	stack   *testutils.MockStack
	closer  *closeCounter
	backend string

	originalStackFactory func(context.Context, string, *logrus.Logger) (peripheral.Stack, io.Closer, error)
	originalNoColor      bool
}

func (s *CommandTestSuite) SetupSuite() {
	s.originalStackFactory = stackfactory.StackFactory
	s.originalNoColor = color.NoColor
	color.NoColor = true
}

func (s *CommandTestSuite) TearDownSuite() {
	stackfactory.StackFactory = s.originalStackFactory
	color.NoColor = s.originalNoColor
}

func (s *CommandTestSuite) SetupTest() {
	s.helper = testutils.NewTestHelper(s.T())
	s.stack = testutils.NewMockStack()
	s.closer = &closeCounter{}
	s.backend = ""

	stackfactory.StackFactory = func(_ context.Context, backend string, _ *logrus.Logger) (peripheral.Stack, io.Closer, error) {
		s.backend = backend
		return s.stack, s.closer, nil
	}

	configPath = ""
	commandsJSON = false
	serveName, serveService, serveChar, serveBackend, serveScript = "", "", "", "", ""
	serveConsole = false
	_ = rootCmd.PersistentFlags().Set("log-level", "")
}

// ExecuteCommand runs rootCmd with args, returns output and error.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, error) {
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	defer func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
	}()
	err := rootCmd.Execute()
	return buf.String(), err
}

// DefaultConfig returns validated defaults.
func (s *CommandTestSuite) DefaultConfig() *config.Config {
	cfg := config.DefaultConfig()
	s.Require().NoError(cfg.Validate())
	return cfg
}

// NewServer builds and starts a server over the mock stack. Output goes to out.
func (s *CommandTestSuite) NewServer(ctx context.Context, cfg *config.Config, out io.Writer) *server {
	srv, err := newServer(ctx, cfg, s.helper.Logger, out)
	s.Require().NoError(err, "server creation MUST succeed")
	s.T().Cleanup(func() { _ = srv.Close() })
	s.Require().NoError(srv.Start(), "server start MUST succeed")
	return srv
}

// Notifications returns the notified values as strings.
func (s *CommandTestSuite) Notifications() []string {
	var out []string
	for _, n := range s.stack.Handle.Notifications() {
		out = append(out, string(n))
	}
	return out
}
