package task

import "errors"

var errNoHandler = errors.New("no_task_handler")
