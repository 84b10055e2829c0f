package scenario

// Builtin returns the default hospital patient scenarios.
func Builtin() []Scenario {
	return []Scenario{
		{
			ID: "schedule-checkup", Name: "Michael Thompson", DateOfBirth: "March 22, 1985", Kind: Scheduling,
			Goal:    "Schedule a new patient appointment for a general checkup",
			Details: map[string]string{"preferred_time": "morning", "reason": "annual physical exam"},
		},
		{
			ID: "schedule-headaches", Name: "Sarah Chen", DateOfBirth: "July 8, 1992", Kind: Scheduling,
			Goal:    "Schedule an appointment for persistent headaches",
			Details: map[string]string{"preferred_time": "afternoon", "urgency": "soon as possible"},
		},
		{
			ID: "schedule-followup", Name: "Robert Williams", DateOfBirth: "November 30, 1958", Kind: Scheduling,
			Goal:    "Schedule a follow-up appointment after lab work",
			Details: map[string]string{"reason": "discuss cholesterol lab results"},
		},
		{
			ID: "reschedule", Name: "Jennifer Garcia", DateOfBirth: "February 14, 1979", Kind: Rescheduling,
			Goal:    "Reschedule existing appointment to a different day",
			Details: map[string]string{"current_appointment": "next Tuesday at 2pm", "reason": "work conflict"},
		},
		{
			ID: "cancel", Name: "David Park", DateOfBirth: "September 3, 1988", Kind: Canceling,
			Goal:    "Cancel upcoming appointment",
			Details: map[string]string{"reason": "feeling better"},
		},
		{
			ID: "refill-bp", Name: "Patricia Johnson", DateOfBirth: "April 17, 1965", Kind: Refill,
			Goal:    "Request refill for blood pressure medication",
			Details: map[string]string{"medication": "Lisinopril 10mg", "pharmacy": "CVS"},
		},
		{
			ID: "refill-allergy", Name: "James Wilson", DateOfBirth: "December 5, 1972", Kind: Refill,
			Goal:    "Request refill for allergy medication",
			Details: map[string]string{"medication": "Zyrtec", "pharmacy": "Walgreens"},
		},
		{
			ID: "office-hours", Name: "Emily Rodriguez", DateOfBirth: "June 25, 1995", Kind: Question,
			Goal:    "Ask about office hours",
			Details: map[string]string{"question": "Are you open on Saturdays?"},
		},
		{
			ID: "office-location", Name: "Thomas Anderson", DateOfBirth: "August 12, 1983", Kind: Question,
			Goal:    "Ask about office location",
			Details: map[string]string{"question": "What is your address?"},
		},
		{
			ID: "insurance", Name: "Maria Santos", DateOfBirth: "January 29, 1976", Kind: Question,
			Goal:    "Ask about insurance",
			Details: map[string]string{"insurance": "Blue Cross Blue Shield"},
		},
		{
			ID: "vague-request", Name: "Harold Miller", DateOfBirth: "October 10, 1950", Kind: Question,
			Goal:    "Vague request that needs clarification",
			Details: map[string]string{"style": "rambling, unclear"},
		},
	}
}
