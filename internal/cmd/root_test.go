package cmd

import (
	"reflect"
	"testing"

	"github.com/omni-build/omni/internal/cmdutil"
)

func TestResolveArgsPrependsDefaultCommand(t *testing.T) {
	testCases := []struct {
		name         string
		args         []string
		defaultAdded bool
	}{
		{name: "normal run task", args: []string{"run", "build"}, defaultAdded: false},
		{name: "empty args", args: []string{}, defaultAdded: true},
		{name: "root help", args: []string{"--help"}, defaultAdded: false},
		{name: "run help", args: []string{"run", "--help"}, defaultAdded: false},
		{name: "version", args: []string{"--version"}, defaultAdded: false},
		{name: "bare task name", args: []string{"build"}, defaultAdded: true},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			helper := cmdutil.NewHelper("test-version")
			root := getCmd(helper)
			resolved := resolveArgs(root, tc.args)
			defaultAdded := !reflect.DeepEqual(tc.args, resolved)
			if defaultAdded != tc.defaultAdded {
				t.Errorf("default command added got %v, want %v (resolved=%v)", defaultAdded, tc.defaultAdded, resolved)
			}
		})
	}
}
