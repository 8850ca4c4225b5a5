package registry

import (
	"fmt"
)

// PlaceholderValue substitutes nested response values that lack the
// expected inner key. Rows are never rejected over a malformed field.
const PlaceholderValue = "<<unknown structure>>"

// innerValueKey is the key holding the scalar value inside nested
// registry response objects.
const innerValueKey = "Wert"

// Record is one registry response, a mapping from field name to value.
type Record map[string]any

// FieldValue renders the named field as its CSV cell value. Scalars are
// formatted as-is, absent fields render empty, and nested objects yield
// their inner value or the placeholder when the inner key is missing.
func (r Record) FieldValue(name string) string {
	v, ok := r[name]
	if !ok || v == nil {
		return ""
	}

	if nested, ok := v.(map[string]any); ok {
		inner, ok := nested[innerValueKey]
		if !ok {
			return PlaceholderValue
		}
		return formatScalar(inner)
	}

	return formatScalar(v)
}

// Row renders the record as one CSV row in the given field order.
func (r Record) Row(fields []string) []string {
	row := make([]string, len(fields))
	for i, name := range fields {
		row[i] = r.FieldValue(name)
	}
	return row
}

func formatScalar(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		// JSON numbers decode as float64; keep integers undecorated.
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%g", val)
	case bool:
		return fmt.Sprintf("%t", val)
	default:
		return fmt.Sprint(val)
	}
}

// DefaultUnitFields is the ordered output schema for solar unit records.
var DefaultUnitFields = []string{
	"Ergebniscode", "AufrufVeraltet", "AufrufLebenszeitEnde", "AufrufVersion",
	"EinheitMastrNummer", "DatumLetzteAktualisierung", "LokationMastrNummer",
	"NetzbetreiberpruefungStatus", "NetzbetreiberpruefungDatum",
	"AnlagenbetreiberMastrNummer", "Land", "Bundesland", "Landkreis",
	"Gemeinde", "Gemeindeschluessel", "Postleitzahl", "Gemarkung",
	"FlurFlurstuecknummern", "Strasse", "StrasseNichtGefunden", "Hausnummer",
	"HausnummerNichtGefunden", "Adresszusatz", "Ort", "Laengengrad",
	"Breitengrad", "UtmZonenwert", "UtmEast", "UtmNorth", "GaussKruegerHoch",
	"GaussKruegerRechts", "Meldedatum", "GeplantesInbetriebnahmedatum",
	"Inbetriebnahmedatum", "DatumEndgueltigeStilllegung",
	"DatumBeginnVoruebergehendeStilllegung", "DatumWiederaufnahmeBetrieb",
	"EinheitBetriebsstatus", "BestandsanlageMastrNummer",
	"NichtVorhandenInMigriertenEinheiten", "NameStromerzeugungseinheit",
	"Weic", "WeicDisplayName", "Kraftwerksnummer", "Energietraeger",
	"Bruttoleistung", "Nettonennleistung",
	"AnschlussAnHoechstOderHochSpannung", "Schwarzstartfaehigkeit",
	"Inselbetriebsfaehigkeit", "Einsatzverantwortlicher",
	"FernsteuerbarkeitNb", "FernsteuerbarkeitDv", "FernsteuerbarkeitDr",
	"Einspeisungsart", "PraequalifiziertFuerRegelenergie", "GenMastrNummer",
	"zugeordneteWirkleistungWechselrichter",
	"GemeinsamerWechselrichterMitSpeicher", "AnzahlModule", "Lage",
	"Leistungsbegrenzung", "EinheitlicheAusrichtungUndNeigungswinkel",
	"Hauptausrichtung", "HauptausrichtungNeigungswinkel", "Nebenausrichtung",
	"NebenausrichtungNeigungswinkel", "InAnspruchGenommeneFlaeche",
	"ArtDerFlaeche", "InAnspruchGenommeneAckerflaeche", "Nutzungsbereich",
	"EegMastrNummer",
}

// DefaultListFields is the ordered output schema for unit listing rows.
var DefaultListFields = []string{
	"EinheitMastrNummer", "Name", "Einheitart", "Einheittyp", "Standort",
	"Bruttoleistung", "Erzeugungsleistung", "EinheitBetriebsstatus",
	"Anlagenbetreiber", "EegMastrNummer", "KwkMastrNummer", "SpeMastrNummer",
	"GenMastrNummer", "BestandsanlageMastrNummer",
	"NichtVorhandenInMigriertenEinheiten",
}
