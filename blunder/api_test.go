package blunder

import (
	"fmt"
	"testing"
)

func TestClasses(t *testing.T) {
	expected := map[FsError]Class{
		ErrResourceExhaustion:  ClassBackoff,
		ErrInvariantViolation:  ClassFatal,
		ErrPlanningAnomaly:     ClassWarn,
		ErrAllocatorDealFailed: ClassAbortPass,
		ErrStatWindowInactive:  ClassRetry,
	}
	for errValue, wantClass := range expected {
		if errValue.Class() != wantClass {
			t.Fatalf("FsError %d: Class() == %v, want %v", errValue.Value(), errValue.Class(), wantClass)
		}
	}
}

func checkValue(t *testing.T, testInfo string, actualVal int, expectedVal int) bool {
	if actualVal != expectedVal {
		t.Fatalf("Error, %s value was %d, expected %d", testInfo, actualVal, expectedVal)
		return false
	}
	return true
}

func TestDefaultErrno(t *testing.T) {
	// Nil error test
	var err error

	// Now try to get error val out of err. We should get a default value, since error value hasn't been set.
	errno := Errno(err)

	// Since err is nil, the default value should be successErrno
	checkValue(t, "nil error", errno, successErrno)

	// IsSuccess should return true and IsNotSuccess should return false
	if !IsSuccess(err) {
		t.Fatalf("Error, IsSuccess() returned false for error %v (errno %v)", ErrorString(err), Errno(err))
	}
	if IsNotSuccess(err) {
		t.Fatalf("Error, IsNotSuccess() returned true for error %v", ErrorString(err))
	}

	// Non-nil error test
	err = fmt.Errorf("this is an ordinary error")

	// Since err is non-nil, the default value should be failureErrno (-1)
	errno = Errno(err)
	checkValue(t, "non-nil error", errno, failureErrno)

	// IsSuccess should return false and IsNotSuccess should return true
	if IsSuccess(err) {
		t.Fatalf("Error, IsSuccess() returned true for error %v (errno %v)", ErrorString(err), Errno(err))
	}
	if !IsNotSuccess(err) {
		t.Fatalf("Error, IsNotSuccess() returned false for error %v", ErrorString(err))
	}

	// Specific error test
	err = AddError(err, ErrInvariantViolation)
	errno = Errno(err)
	checkValue(t, "specific error", errno, ErrInvariantViolation.Value())
}

func TestAddValue(t *testing.T) {
	// Add value to a nil error (not recommended as a strategy, but it needs to work anyway)
	var err error
	err = AddError(err, ErrResourceExhaustion)
	errno := Errno(err)
	checkValue(t, "specific error", errno, ErrResourceExhaustion.Value())
	if !hasErrnoValue(err) {
		t.Fatalf("Error, hasErrnoValue returned false for error %v", ErrorString(err))
	}
	// Validate the Is* APIs on what started as a nil error
	if !Is(err, ErrResourceExhaustion) {
		t.Fatalf("Error, Is() returned false for error %v is ErrResourceExhaustion", ErrorString(err))
	}
	if Is(err, ErrPlanningAnomaly) {
		t.Fatalf("Error, Is() returned true for error %v is ErrPlanningAnomaly", ErrorString(err))
	}
	if !IsNot(err, ErrAllocatorDealFailed) {
		t.Fatalf("Error, IsNot() returned false for error %v is ErrAllocatorDealFailed", ErrorString(err))
	}
	if IsSuccess(err) {
		t.Fatalf("Error, IsSuccess() returned true for error %v", ErrorString(err))
	}
	if !IsNotSuccess(err) {
		t.Fatalf("Error, IsNotSuccess() returned false for error %v", ErrorString(err))
	}

	// Add value to a non-nil error
	err = fmt.Errorf("this is an ordinary error")
	err = AddError(err, ErrStatWindowInactive)
	errno = Errno(err)
	checkValue(t, "specific error", errno, ErrStatWindowInactive.Value())
	if !hasErrnoValue(err) {
		t.Fatalf("Error, hasErrnoValue returned false for error %v", ErrorString(err))
	}
	// Validate the Is* APIs on what started as a non-nil error
	if !Is(err, ErrStatWindowInactive) {
		t.Fatalf("Error, Is() returned false for error %v is ErrStatWindowInactive", ErrorString(err))
	}
	if Is(err, ErrPlanningAnomaly) {
		t.Fatalf("Error, Is() returned true for error %v is ErrPlanningAnomaly", ErrorString(err))
	}
	if !IsNot(err, ErrPlanningAnomaly) {
		t.Fatalf("Error, IsNot() returned false for error %v is ErrPlanningAnomaly", ErrorString(err))
	}
	if IsSuccess(err) {
		t.Fatalf("Error, IsSuccess() returned true for error %v", ErrorString(err))
	}
	if !IsNotSuccess(err) {
		t.Fatalf("Error, IsNotSuccess() returned false for error %v", ErrorString(err))
	}

	// Add a different value to a non-nil error
	err = AddError(err, ErrAllocatorDealFailed)
	errno = Errno(err)
	checkValue(t, "specific error", errno, ErrAllocatorDealFailed.Value())
	if !hasErrnoValue(err) {
		t.Fatalf("Error, hasErrnoValue returned false for error %v", ErrorString(err))
	}
	if !Is(err, ErrAllocatorDealFailed) {
		t.Fatalf("Error, Is() returned false for error %v is ErrAllocatorDealFailed", ErrorString(err))
	}
}

func TestHTTPCode(t *testing.T) {
	// Nil error test
	// Add http code to a nil error (not recommended as a strategy, but it needs to work anyway)
	var err error

	// Now try to get http code out of err. We should get a default value, since error value hasn't been set.
	code := HTTPCode(err)

	// Since err is nil, the default value should be 200 OK
	checkValue(t, "nil error", code, 200)

	// Non-nil error test
	err = fmt.Errorf("this is an ordinary error")

	// Err is non-nil but http code is not set, the default value should be 500
	code = HTTPCode(err)
	checkValue(t, "non-nil error", code, 500)

	// Specific error test
	err = AddHTTPCode(err, 400)
	code = HTTPCode(err)
	checkValue(t, "specific error", code, 400)
}
