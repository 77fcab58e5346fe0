package shell

import (
	"testing"

	"github.com/matryer/is"

	"github.com/domino14/dirimult/config"
)

func TestExtractFields(t *testing.T) {
	is := is.New(t)
	type testdata struct {
		line   string
		expCmd *shellcmd
		expErr error
	}
	cases := []testdata{
		{"", nil, errNoData},
		{"load -encoding latin1",
			&shellcmd{"load", nil, map[string]string{"encoding": "latin1"}},
			nil},
		{"fit stop",
			&shellcmd{"fit", []string{"stop"}, map[string]string{}},
			nil},
		{"gen 2,3,5 100 50 -seed 42 ",
			&shellcmd{"gen",
				[]string{"2,3,5", "100", "50"},
				map[string]string{"seed": "42"}},
			nil,
		},
		{"gen 2,3,5 100 50 -seed",
			nil, errWrongOptionSyntax},
	}
	for _, t := range cases {
		cmd, err := extractFields(t.line)
		is.Equal(cmd, t.expCmd)
		is.Equal(err, t.expErr)
	}
}

func TestShellOptions(t *testing.T) {
	is := is.New(t)
	cfg := config.DefaultConfig()
	opts := NewShellOptions(&cfg)

	ret, err := opts.Set(config.ConfigTolerance, []string{"1e-8"})
	is.NoErr(err)
	is.Equal(ret, "1e-08")
	is.Equal(cfg.GetFloat64(config.ConfigTolerance), 1e-8)

	_, err = opts.Set(config.ConfigTolerance, []string{"-1"})
	is.True(err != nil)
	_, err = opts.Set(config.ConfigMaxIterations, []string{"0"})
	is.True(err != nil)
	_, err = opts.Set("no-such-option", []string{"1"})
	is.True(err != nil)

	ok, val := opts.Show(config.ConfigMaxIterations)
	is.True(ok)
	is.Equal(val, "1000")
}
