package node

import "github.com/gin-gonic/gin"

// Node is a device process exposing its status over HTTP.
type Node interface {
	NodeID() string
	// Kind names the output hardware family, e.g. "dds".
	Kind() string
	// Ready reports whether the device is accepting uploads.
	Ready() bool
	HTTPRouter() *gin.Engine
}
