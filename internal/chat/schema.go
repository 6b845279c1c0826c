package chat

import "google.golang.org/genai"

// Allowed values for the enum fields of a ticket.
var (
	Branches = []string{
		"RS Puram", "Koundampalayam", "Sivanandha Colony", "Peelamedu",
		"Ramanathapuram", "Central Kitchen", "General",
	}
	Categories = []string{
		"Food Quality", "Taste", "Hygiene", "Staff Behavior", "Serving Delay",
		"Object In Food", "Missing Food Item", "Not Cooked Well", "Policy Change",
		"Order", "Enquiry", "Takeaway Delay", "Wrong Item", "Other",
	}
	IncidentStatuses = []string{"Open", "Closed", "Closed - No Contact", "Other"}
	OrderTypes       = []string{"Dine-in", "Swiggy", "Zomato", "Takeaway", "Other"}
	TicketTypes      = []string{"Complaint", "Feedback", "Suggestion", "Order", "Enquiry", "Other"}
)

type fieldSpec struct {
	name   string
	schema *genai.Schema
}

func text(desc string) *genai.Schema {
	return &genai.Schema{Type: genai.TypeString, Nullable: genai.Ptr(true), Description: desc}
}

func enum(values []string, desc string) *genai.Schema {
	return &genai.Schema{Type: genai.TypeString, Nullable: genai.Ptr(true), Enum: values, Description: desc}
}

func otherText(field string) *genai.Schema {
	return text("If " + field + " is 'Other', provide a brief 3-word description here. Otherwise, null.")
}

// ticketFields lists the extraction schema in output order. Names match the
// JSON tags of store.TicketFields.
var ticketFields = []fieldSpec{
	{"Branch", enum(Branches, "Branch the incident happened at. 'General' if no branch is mentioned.")},
	{"Name", text("Customer name.")},
	{"Category", &genai.Schema{
		Type:        genai.TypeArray,
		Nullable:    genai.Ptr(true),
		Items:       &genai.Schema{Type: genai.TypeString, Enum: Categories},
		Description: "Every category that applies to the incident.",
	}},
	{"Category_Other", text("If Category includes 'Other', provide a brief 3-word description here. Otherwise, null.")},
	{"Issue_Details", text("What went wrong, in the customer's terms.")},
	{"Status", enum(IncidentStatuses, "Resolution state of the incident at the end of the calls.")},
	{"Status_Other", otherText("Status")},
	{"Action_Taken", text("What the branch did about the issue.")},
	{"Customer_Care_Notes", text("Notes for the customer care team. Always provided.")},
	{"Resolution_Feedback_From_Customer", text("How the customer responded to the resolution.")},
	{"Order_Type", enum(OrderTypes, "How the order was placed.")},
	{"Order_Type_Other", otherText("Order_Type")},
	{"Ticket_Type", enum(TicketTypes, "Kind of ticket.")},
	{"Ticket_Type_Other", otherText("Ticket_Type")},
	{"Table_No", text("Table number for dine-in orders.")},
	{"Token_No", text("Token number.")},
	{"Bill_No", text("Bill or order number.")},
	{"Waiter_Name", text("Name of the waiter involved.")},
	{"Captain_Name", text("Name of the captain involved.")},
	{"Staff_Responsible", text("Staff member responsible for the issue.")},
	{"AI_Summary", text("Two or three sentence summary of the incident. Always provided.")},
	{"Preventive_Action", text("Suggested step to keep the issue from recurring.")},
}

// TicketFieldNames returns the extraction field names in output order.
func TicketFieldNames() []string {
	names := make([]string, len(ticketFields))
	for i, f := range ticketFields {
		names[i] = f.name
	}
	return names
}

// TicketSchema builds the response schema sent with extraction requests.
// Every field is required but nullable, so the model always emits the full
// object.
func TicketSchema() *genai.Schema {
	props := make(map[string]*genai.Schema, len(ticketFields))
	for _, f := range ticketFields {
		props[f.name] = f.schema
	}
	names := TicketFieldNames()
	return &genai.Schema{
		Type:             genai.TypeObject,
		Properties:       props,
		Required:         names,
		PropertyOrdering: names,
	}
}
