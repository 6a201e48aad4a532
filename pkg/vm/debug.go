package vm

import "github.com/srediag/shmregion/internal/logging"

var logger = logging.New("vm")
