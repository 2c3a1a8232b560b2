package query

// Occupations enumerates the partitions: occupations that are subclasses of
// "scholar" and instances of "profession". Bindings: ?occ, ?lblEN.
const Occupations Template = `
SELECT ?occ ?lblEN WHERE {
  ?occ wdt:P279+ wd:Q20826540 ; wdt:P31 wd:Q28640 .
  OPTIONAL { ?occ rdfs:label ?lblEN FILTER(LANG(?lblEN)="en") }
}
`

// PeopleByOccupation lists humans holding one occupation, one window at a time.
// Variable names match record.PeopleMapping.
const PeopleByOccupation Template = `
SELECT ?person ?personLabel ?birth ?death ?genderLabel ?countryLabel
       ?ethnicityLabel ?religionLabel ?movementLabel ?notableWorkLabel ?occLabel
WHERE {
  VALUES ?targetOcc { wd:{OCC_ID} }
  ?person wdt:P31 wd:Q5 ; wdt:P106 ?targetOcc .
  OPTIONAL { ?person wdt:P569 ?birth. }
  OPTIONAL { ?person wdt:P570 ?death. }
  OPTIONAL { ?person wdt:P21 ?gender. }
  OPTIONAL { ?person wdt:P27 ?country. }
  OPTIONAL { ?person wdt:P172 ?ethnicity. }
  OPTIONAL { ?person wdt:P140 ?religion. }
  OPTIONAL { ?person wdt:P135 ?movement. }
  OPTIONAL { ?person wdt:P800 ?notableWork. }
  OPTIONAL { ?targetOcc rdfs:label ?occLabel FILTER(LANG(?occLabel)="en") }
  SERVICE wikibase:label { bd:serviceParam wikibase:language "en,pt". }
}
LIMIT {LIMIT}
OFFSET {OFFSET}
`
