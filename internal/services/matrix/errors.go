package matrix

import "errors"

var (
	// ErrFlagNotApplicable indicates a flag that does not exist on the cell's kind (e.g., viewAll on a field).
	ErrFlagNotApplicable = errors.New("matrix: flag not applicable")
	// ErrUnknownRow indicates a row key that is not part of the current selection.
	ErrUnknownRow = errors.New("matrix: unknown row")
	// ErrUnknownParent indicates a parent identity that is not part of the current selection.
	ErrUnknownParent = errors.New("matrix: unknown parent identity")
	// ErrSaveInProgress is returned by every mutation while a save is running.
	ErrSaveInProgress = errors.New("matrix: save in progress")
	// ErrSaveDeclined is returned when the confirmation step was declined.
	ErrSaveDeclined = errors.New("matrix: save declined")
	// ErrNothingToSave is returned by Save when no cell is dirty.
	ErrNothingToSave = errors.New("matrix: nothing to save")
)

const (
	// RestrictedPicklistMessage replaces the record service message for restricted picklist errors.
	RestrictedPicklistMessage = "Salesforce does not allow field-level security to be changed on this field. Required and system fields always have fixed access."
	// GenericSaveErrorMessage is attached to every record of a batch whose save call failed as a whole.
	GenericSaveErrorMessage = "The save request failed before a result was returned for this permission. Try saving again."
)
