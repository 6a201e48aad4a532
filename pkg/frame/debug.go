package frame

import "github.com/srediag/shmregion/internal/logging"

var logger = logging.New("frame")
