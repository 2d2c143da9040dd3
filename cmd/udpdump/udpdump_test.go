package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitHost(t *testing.T) {
	var tests = []struct {
		arg     string
		flagSet bool
		host    string
		port    int
		wantErr bool
	}{
		{"bee2", false, "bee2", 2010, false},
		{"bee2:4000", false, "bee2", 4000, false},
		{":4001", false, defaultHost, 4001, false},
		{"bee2:2010", true, "bee2", 2010, false},
		{"bee2:4000", true, "", 2010, true},
		{"a:b:c", false, "", 2010, true},
		{"bee2:port", false, "", 2010, true},
	}
	for _, test := range tests {
		port = 2010
		host, err := splitHost(test.arg, test.flagSet)
		if test.wantErr {
			assert.Error(t, err, test.arg)
			continue
		}
		assert.NoError(t, err, test.arg)
		assert.Equal(t, test.host, host, test.arg)
		assert.Equal(t, test.port, port, test.arg)
	}
}
