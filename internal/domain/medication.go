package domain

// Medication 药品模型（对应 medications 表）
// Secondary lookup source when a raw dispense event omits name/dosage.
type Medication struct {
	MedicationID string `db:"medication_id"`
	PatientID    string `db:"patient_id"`
	Name         string `db:"name"`
	Dosage       string `db:"dosage"`
}
