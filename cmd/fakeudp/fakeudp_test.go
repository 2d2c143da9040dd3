package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestServerAddr(t *testing.T) {
	assert.Equal(t, "192.168.0.2:2010", serverAddr("192.168.0.2"))
	assert.Equal(t, "localhost:3000", serverAddr("localhost:3000"))
	assert.Equal(t, "[::1]:2010", serverAddr("::1"))
}
