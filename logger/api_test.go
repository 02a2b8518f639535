package logger

import (
	"fmt"
	"testing"

	"github.com/NVIDIA/ufssched/conf"
	"github.com/NVIDIA/ufssched/utils"
)

func testNestedFunc() {
	myint := 3
	TraceEnter("the prefix", 1, myint)
}

func TestAPI(t *testing.T) {
	confStrings := []string{
		"Logging.LogToConsole=true",
	}

	confMap, err := conf.MakeConfMapFromStrings(confStrings)
	if err != nil {
		t.Fatalf("%v", err)
	}

	err = Up(confMap)
	if nil != err {
		t.Fatalf("logger.Up(confMap) failed: %v", err)
	}

	Tracef("hello there!")
	Tracef("hello again, %s!", "you")
	Tracef("%v: %v", utils.GetFnName(), err)
	Warnf("%v: %v", "IAmTheCaller", "this is the error")
	err = fmt.Errorf("this is the error")
	ErrorfWithError(err, "we had an error!")

	testNestedFunc()

	err = Down()
	if nil != err {
		t.Fatalf("logger.Down() failed: %v", err)
	}
}
