package workflow

import "github.com/jwalitptl/clinic-api/internal/model"

// transitions lists the allowed next statuses for each status. The path is
// linear; completed is terminal.
var transitions = map[model.WorkflowStatus][]model.WorkflowStatus{
	model.WorkflowPaymentPending:    {model.WorkflowPaymentCompleted},
	model.WorkflowPaymentCompleted:  {model.WorkflowVitalsPending},
	model.WorkflowVitalsPending:     {model.WorkflowDoctorAssignment},
	model.WorkflowDoctorAssignment:  {model.WorkflowConsultationReady},
	model.WorkflowConsultationReady: {model.WorkflowInProgress},
	model.WorkflowInProgress:        {model.WorkflowCompleted},
	model.WorkflowCompleted:         nil,
}

// CanTransition reports whether to immediately follows from.
func CanTransition(from, to model.WorkflowStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Next returns the successor of s, if any.
func Next(s model.WorkflowStatus) (model.WorkflowStatus, bool) {
	next := transitions[s]
	if len(next) == 0 {
		return "", false
	}
	return next[0], true
}

func Terminal(s model.WorkflowStatus) bool {
	return len(transitions[s]) == 0
}

// paymentOnly marks statuses that only the payment path may enter.
var paymentOnly = map[model.WorkflowStatus]bool{
	model.WorkflowPaymentCompleted: true,
}

// queueStatuses are the statuses shown in a doctor's queue.
var queueStatuses = map[model.WorkflowStatus]bool{
	model.WorkflowConsultationReady: true,
	model.WorkflowInProgress:        true,
}
