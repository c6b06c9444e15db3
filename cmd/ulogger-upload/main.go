// ulogger-upload publishes a firmware upload request to the uLogger
// platform and transfers the artifact to the presigned URL it returns.
package main

import (
	"os"

	"github.com/ulogger-ai/ulogger-upload/cmd/ulogger-upload/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
