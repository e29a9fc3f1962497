package failure

import "github.com/sells-group/renovation-report/internal/model"

// Stage names used in reasons and provenance.
const (
	StageInput       = "input"
	StageProperty    = "property"
	StageLocation    = "location"
	StageComparables = "comparables"
	StageSynthesis   = "synthesis"
	StageContractors = "contractors"
	StageDispatch    = "dispatch"
)

const (
	reasonInvalidInput   = "The submitted listing link or address is not supported. Please check it and try again."
	reasonListing        = "We could not access this listing. The site may be blocking automated access; try again later or submit the property address instead."
	reasonAddress        = "We could not find this property online. Please check the address and try again."
	reasonAnalysis       = "We could not produce a renovation analysis for this property. Please try again later."
	reasonDispatch       = "We could not start generating this report. Please submit it again."
	reasonInconsistency  = "Something went wrong while generating this report. Please submit it again."
	reasonGenericFailure = "We could not complete this report. Please try again later."
)

// Reason returns the user-facing failure reason for a fatal failure. Raw
// error text never reaches the report.
func Reason(kind Kind, stage string, input model.InputKind) string {
	switch kind {
	case InvalidInput:
		return reasonInvalidInput
	case InternalInconsistency:
		return reasonInconsistency
	}

	switch stage {
	case StageProperty:
		if input == model.InputKindURL {
			return reasonListing
		}
		return reasonAddress
	case StageSynthesis:
		return reasonAnalysis
	case StageDispatch:
		return reasonDispatch
	}
	return reasonGenericFailure
}
